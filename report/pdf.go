package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEmptyPacket is returned when no entry has a saved image.
var ErrEmptyPacket = errors.New("report: no diff images to bundle")

// WritePDF bundles the saved diff images of entries into one PDF, one
// image per page, in entry order.
func WritePDF(w io.Writer, entries []Entry) error {
	var imgs []io.Reader
	for _, e := range entries {
		if e.Artifact == "" {
			continue
		}
		data, err := os.ReadFile(e.Artifact)
		if err != nil {
			return fmt.Errorf("report: pdf: %w", err)
		}
		imgs = append(imgs, bytes.NewReader(data))
	}
	if len(imgs) == 0 {
		return ErrEmptyPacket
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, w, imgs, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return fmt.Errorf("report: pdf: %w", err)
	}
	return nil
}
