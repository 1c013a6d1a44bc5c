package services

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/meshforge/studio/internal/domain"
)

const previewSize = 64

// placeholderArtifact returns a small but well-formed file of the given kind,
// written by the simulator in place of real reconstruction output.
func placeholderArtifact(kind domain.ArtifactKind, jobID string) ([]byte, error) {
	switch kind {
	case domain.ArtifactGLB:
		return placeholderGLB(jobID), nil
	case domain.ArtifactPLY:
		return placeholderPLY(), nil
	case domain.ArtifactPreview:
		return placeholderPNG(jobID)
	}
	return nil, fmt.Errorf("%w: kind %q", domain.ErrArtifactInvalid, kind)
}

// placeholderGLB emits a glTF 2.0 binary container holding only an asset
// header. Chunk lengths are 4-byte aligned with space padding.
func placeholderGLB(jobID string) []byte {
	doc := []byte(fmt.Sprintf(`{"asset":{"version":"2.0","generator":"meshforge-devserver","extras":{"job_id":%q}}}`, jobID))
	for len(doc)%4 != 0 {
		doc = append(doc, ' ')
	}

	var buf bytes.Buffer
	total := uint32(12 + 8 + len(doc))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x46546C67)) // "glTF"
	_ = binary.Write(&buf, binary.LittleEndian, uint32(2))
	_ = binary.Write(&buf, binary.LittleEndian, total)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(doc)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4E4F534A)) // "JSON"
	buf.Write(doc)
	return buf.Bytes()
}

func placeholderPLY() []byte {
	return []byte("ply\n" +
		"format ascii 1.0\n" +
		"element vertex 3\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"end_header\n" +
		"0 0 0\n1 0 0\n0 1 0\n")
}

// placeholderPNG draws a gradient tinted by the job id so previews of
// different jobs are distinguishable.
func placeholderPNG(jobID string) ([]byte, error) {
	var tint uint8
	for i := 0; i < len(jobID); i++ {
		tint += jobID[i]
	}
	img := image.NewRGBA(image.Rect(0, 0, previewSize, previewSize))
	for y := 0; y < previewSize; y++ {
		for x := 0; x < previewSize; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / previewSize),
				G: uint8(y * 255 / previewSize),
				B: tint,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
