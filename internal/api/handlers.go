package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/transfer"
	"github.com/stefando/largeFileUpload/internal/upload"
)

const (
	maxFieldBytes      = 4 << 10
	maxManifestBytes   = 64 << 20
	contentLengthField = "Content-Length"
)

// Handler serves the upload routes on top of an ingestion service
type Handler struct {
	svc *upload.Service
}

func NewHandler(svc *upload.Service) *Handler {
	return &Handler{svc: svc}
}

// fileSection is the first file part of a multipart body together with the form fields preceding it
type fileSection struct {
	fields   map[string]string
	part     *multipart.Part
	fileName string
	length   int64
}

// nextFileSection reads form fields until the first file part. Fields sent after the file are not seen.
func nextFileSection(r *http.Request) (*fileSection, error) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
		return nil, upload.NewValidationError("Missing or wrong Content-Type header.")
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, upload.NewValidationError("Missing or wrong Content-Type header.")
	}
	fields := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, upload.NewValidationError("Missing file section.")
		}
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return nil, err
			}
			return nil, upload.NewValidationError("Malformed multipart body: %s", err)
		}
		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			if err != nil {
				return nil, upload.NewValidationError("Malformed form field %q", part.FormName())
			}
			if len(value) > maxFieldBytes {
				return nil, upload.NewValidationError("Form field %q too large", part.FormName())
			}
			fields[part.FormName()] = string(value)
			continue
		}
		declared := part.Header.Get(contentLengthField)
		if declared == "" {
			return nil, upload.NewValidationError("Missing Content-Length header in file.")
		}
		length, err := strconv.ParseInt(declared, 10, 64)
		if err != nil || length < 0 {
			return nil, upload.NewValidationError("Invalid Content-Length header in file.")
		}
		return &fileSection{fields: fields, part: part, fileName: part.FileName(), length: length}, nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleStream appends a single file section to a newly named target
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	section, err := nextFileSection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target := upload.NewStreamTarget(section.fileName)
	ctx := logging.AddFields(r.Context(), logging.Fields{
		logging.StrategyFieldKey: transfer.StrategyStream,
		logging.TargetFieldKey:   target,
	})
	n, err := h.svc.AppendStream(ctx, target, section.part, section.length)
	upload.RecordIngested(transfer.StrategyStream, n)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, UploadResponse{Target: target, Bytes: n})
}

// handleChunk appends one chunk to the target of its operation. The operation id comes from the
// operationId form field, or the operationId query parameter when the field is absent.
func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	section, err := nextFileSection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rawID, ok := section.fields["operationId"]
	if !ok {
		rawID = r.URL.Query().Get("operationId")
	}
	operationID, err := upload.ParseOperationID(rawID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target := upload.ChunkTarget(operationID, section.fileName)
	ctx := logging.AddFields(r.Context(), logging.Fields{
		logging.StrategyFieldKey:    transfer.StrategyChunk,
		logging.OperationIDFieldKey: operationID.String(),
		logging.TargetFieldKey:      target,
	})
	n, err := h.svc.AppendStream(ctx, target, section.part, section.length)
	upload.RecordIngested(transfer.StrategyChunk, n)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, UploadResponse{Target: target, Bytes: n})
}

// handleBlock buffers one block and stages it under its block id
func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	section, err := nextFileSection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target := section.fields["fileName"]
	blockID := section.fields["blockId"]
	ctx := logging.AddFields(r.Context(), logging.Fields{
		logging.StrategyFieldKey: transfer.StrategyBlock,
		logging.TargetFieldKey:   target,
		logging.BlockIDFieldKey:  blockID,
	})
	if err := h.svc.StageBlock(ctx, target, blockID, section.part, section.length); err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, StageBlockResponse{Target: target, BlockID: blockID, Bytes: section.length})
}

// handleCommit commits the staged blocks listed, in order, in the JSON body
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("blobName")
	var ids []string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxManifestBytes)).Decode(&ids); err != nil {
		writeError(w, r, upload.NewValidationError("Invalid block list: %s", err))
		return
	}
	ctx := logging.AddFields(r.Context(), logging.Fields{logging.TargetFieldKey: target})
	if err := h.svc.CommitBlocks(ctx, target, ids); err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, CommitResponse{Target: target, Blocks: len(ids)})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}
