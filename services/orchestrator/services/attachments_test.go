// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

func dataURI(t *testing.T, mime, content string) string {
	t.Helper()
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString([]byte(content))
}

func TestBuildUserMessage_NoAttachments(t *testing.T) {
	item, err := BuildUserMessage("Evaluate the AIR", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "user", item.Role)
	require.Len(t, item.Parts, 1)
	assert.Equal(t, "input_text", item.Parts[0].Type)
	assert.Equal(t, "Evaluate the AIR", item.Parts[0].Text)
}

func TestBuildUserMessage_ImageAndPdf(t *testing.T) {
	image := dataURI(t, "image/png", "png-bytes")
	pdf := datatypes.FileAttachment{
		DataURI:  dataURI(t, "application/pdf", "%PDF-1.7 content"),
		FileName: "air.pdf",
		MimeType: "application/pdf",
	}

	item, err := BuildUserMessage("see attached", []string{image}, []datatypes.FileAttachment{pdf})
	require.NoError(t, err)
	require.Len(t, item.Parts, 3)

	assert.Equal(t, "input_image", item.Parts[1].Type)
	assert.Equal(t, image, item.Parts[1].ImageDataURI)

	assert.Equal(t, "input_file", item.Parts[2].Type)
	assert.Equal(t, "air.pdf", item.Parts[2].FileName)
	assert.Equal(t, "application/pdf", item.Parts[2].MimeType)
	decoded, decodeErr := base64.StdEncoding.DecodeString(item.Parts[2].FileData)
	require.NoError(t, decodeErr)
	assert.Equal(t, "%PDF-1.7 content", string(decoded))
}

func TestBuildUserMessage_TextDocumentInlined(t *testing.T) {
	file := datatypes.FileAttachment{
		DataURI:  dataURI(t, "text/markdown", "# Exchange Requirements"),
		FileName: "eir.md",
		MimeType: "text/markdown",
	}

	item, err := BuildUserMessage("review this", nil, []datatypes.FileAttachment{file})
	require.NoError(t, err)
	require.Len(t, item.Parts, 2)

	assert.Equal(t, "input_text", item.Parts[1].Type)
	assert.Equal(t,
		"\n\n--- Content of eir.md ---\n# Exchange Requirements\n--- End of eir.md ---\n",
		item.Parts[1].Text)
}

func TestBuildUserMessage_AggregatesProblems(t *testing.T) {
	goodImage := dataURI(t, "image/png", "ok")
	badImage := "not-a-data-uri"
	badFile := datatypes.FileAttachment{
		DataURI:  dataURI(t, "application/zip", "zip"),
		FileName: "archive.zip",
		MimeType: "application/zip",
	}

	_, err := BuildUserMessage("msg", []string{goodImage, badImage},
		[]datatypes.FileAttachment{badFile})
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	// Only the offending attachments are named, with their 1-based index.
	message := err.Error()
	assert.True(t, strings.HasPrefix(message, "Invalid attachments: "))
	assert.Contains(t, message, "Image 2: Invalid format (must be data URI)")
	assert.Contains(t, message, "File 1 (archive.zip): Unsupported type 'application/zip'")
	assert.NotContains(t, message, "Image 1")
}

func TestBuildUserMessage_MimeMismatch(t *testing.T) {
	file := datatypes.FileAttachment{
		DataURI:  dataURI(t, "text/plain", "plain text"),
		FileName: "report.pdf",
		MimeType: "application/pdf",
	}

	_, err := BuildUserMessage("msg", nil, []datatypes.FileAttachment{file})
	require.Error(t, err)
	assert.Contains(t, err.Error(),
		"File 1 (report.pdf): MIME type mismatch (declared: application/pdf, detected: text/plain)")
}

func TestBuildUserMessage_OversizedImage(t *testing.T) {
	big := dataURI(t, "image/png", strings.Repeat("x", datatypes.MaxImageBytes+1))

	_, err := BuildUserMessage("msg", []string{big}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum 5MB")
}

func TestBuildUserMessage_TooManyImages(t *testing.T) {
	images := make([]string, datatypes.MaxImageAttachments+1)
	for i := range images {
		images[i] = dataURI(t, "image/png", "ok")
	}

	_, err := BuildUserMessage("msg", images, nil)
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	assert.Equal(t, "Invalid image attachments: Too many images (6), maximum 5 allowed", err.Error())
}

func TestBuildUserMessage_TooManyFiles(t *testing.T) {
	files := make([]datatypes.FileAttachment, datatypes.MaxFileAttachments+1)
	for i := range files {
		files[i] = datatypes.FileAttachment{
			DataURI:  dataURI(t, "text/plain", "ok"),
			FileName: "doc.txt",
			MimeType: "text/plain",
		}
	}

	_, err := BuildUserMessage("msg", nil, files)
	require.Error(t, err)
	assert.Equal(t, "Invalid file attachments: Too many files (11), maximum 10 allowed", err.Error())
}

func TestBuildUserMessage_InvalidBase64(t *testing.T) {
	_, err := BuildUserMessage("msg", []string{"data:image/png;base64,@@@not-base64@@@"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Image 1: Invalid Base64 encoding")
}
