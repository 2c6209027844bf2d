package transfer

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// fixed-width ids: block blob services require equal id lengths within a single blob
const (
	blockIDPrefix = "unit-"
	blockIDFormat = blockIDPrefix + "%010d"
)

// BlockID identifies a staged unit. It is derived from the unit index alone, so workers never need to
// coordinate to produce one.
type BlockID string

func NewBlockID(index int) BlockID {
	return BlockID(base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(blockIDFormat, index))))
}

// Index recovers the unit index encoded in the id.
func (id BlockID) Index() (int, error) {
	raw, err := base64.StdEncoding.DecodeString(string(id))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBlockID, id)
	}
	digits, ok := strings.CutPrefix(string(raw), blockIDPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBlockID, id)
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBlockID, id)
	}
	// reject non-canonical encodings so the mapping stays bijective
	if NewBlockID(index) != id {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBlockID, id)
	}
	return index, nil
}

func (id BlockID) String() string {
	return string(id)
}

// Manifest is the ordered list of block ids used to materialize the final object.
type Manifest []BlockID

// Validate checks that the manifest holds exactly units ids, ordered by index with no gaps or duplicates.
func (m Manifest) Validate(units int) error {
	if len(m) != units {
		return fmt.Errorf("%w: %d ids for %d units", ErrInvalidManifest, len(m), units)
	}
	for i, id := range m {
		if id != NewBlockID(i) {
			return fmt.Errorf("%w: position %d holds %q", ErrInvalidManifest, i, id)
		}
	}
	return nil
}

// Strings returns the ids as plain strings, in order.
func (m Manifest) Strings() []string {
	out := make([]string, len(m))
	for i, id := range m {
		out[i] = string(id)
	}
	return out
}
