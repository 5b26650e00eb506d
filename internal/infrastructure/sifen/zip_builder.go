package sifen

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// CompressBatchToZip empaqueta los XML firmados de un lote en un ZIP en
// memoria, un archivo por documento, listo para enviar al WS de recepción de lotes.
func CompressBatchToZip(snaps []*DocumentSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, snap := range snaps {
		fw, err := zw.Create(snap.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: crear entrada %s: %w", snap.Filename, err)
		}
		if _, err := fw.Write(snap.XML); err != nil {
			return nil, fmt.Errorf("zip: escribir %s: %w", snap.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}
