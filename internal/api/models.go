package api

// UploadResponse is returned by the stream and chunk routes
type UploadResponse struct {
	Target string `json:"target"`
	Bytes  int64  `json:"bytes"`
}

// StageBlockResponse is returned once a block is staged
type StageBlockResponse struct {
	Target  string `json:"target"`
	BlockID string `json:"blockId"`
	Bytes   int64  `json:"bytes"`
}

// CommitResponse is returned once the staged blocks are committed
type CommitResponse struct {
	Target string `json:"target"`
	Blocks int    `json:"blocks"`
}
