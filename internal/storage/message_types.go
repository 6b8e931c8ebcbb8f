package storage

import "time"

// CVUploadedMessage 简历上传完成后经发件箱投递的事件
type CVUploadedMessage struct {
	CVID             uint      `json:"cv_id"`
	CVUUID           string    `json:"cv_uuid"`
	OriginalFilename string    `json:"original_filename"`
	ObjectKey        string    `json:"object_key,omitempty"`
	FileMD5          string    `json:"file_md5,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`
}
