package storage

const (
	DefaultImagesDir = "images"
	DefaultInfoFile  = "info.json"

	DefaultImageExt = ".jpg"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750
)
