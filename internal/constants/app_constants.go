package constants

const (
	// EventTypeCVUploaded 简历上传完成事件
	EventTypeCVUploaded = "cv.uploaded"

	// ContentTypePDF 原始简历的对象存储类型
	ContentTypePDF = "application/pdf"

	// CVObjectPrefix 原始简历在对象存储中的key前缀
	CVObjectPrefix = "cvs/"
)
