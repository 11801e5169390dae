package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogWriter returns a writer that ships every write as a GELF message
// over UDP to the Graylog input at address.
func NewGraylogWriter(address string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("creating GELF writer for %s: %w", address, err)
	}
	return w, nil
}
