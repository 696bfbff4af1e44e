package vehicleimage

// ConfirmUploadRequest carries the client's claim that an upload finished
type ConfirmUploadRequest struct {
	OwnerID     int64
	Key         string
	FileName    string
	ContentType string
	Size        int64
	Primary     bool
}
