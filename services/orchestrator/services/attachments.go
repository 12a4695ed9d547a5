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
	"fmt"
	"strings"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/agent"
	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// =============================================================================
// Attachment MIME Tables
// =============================================================================

// allowedImageTypes are the image MIME types accepted as inline images.
var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/webp": true,
}

// allowedDocumentTypes are the document MIME types accepted as attachments.
var allowedDocumentTypes = map[string]bool{
	"application/pdf":  true,
	"text/plain":       true,
	"text/markdown":    true,
	"text/csv":         true,
	"application/json": true,
	"text/html":        true,
	"application/xml":  true,
	"text/xml":         true,
}

// textBasedDocumentTypes are document types whose content is inlined into
// the user message instead of attached as a file part.
var textBasedDocumentTypes = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/csv":         true,
	"application/json": true,
	"text/html":        true,
	"application/xml":  true,
	"text/xml":         true,
}

// fileInputTypes are document types sent to the runtime as raw file parts.
var fileInputTypes = map[string]bool{
	"application/pdf": true,
}

// =============================================================================
// User Message Assembly
// =============================================================================

// BuildUserMessage validates attachments and assembles the user input item.
//
// # Description
//
// With no attachments the message is a single text part. Otherwise each
// image and file is validated (data URI shape, MIME allow-list, declared
// vs. embedded MIME agreement, base64 payload, size ceiling) and converted
// to its content part: images become image parts, text-based documents are
// inlined as delimited text, PDFs become file parts. A document whose MIME
// type passes the allow-list but matches no handling strategy is dropped
// silently.
//
// Per-attachment problems are collected and reported together in one
// ValidationError, so the caller can fix everything in one round trip.
//
// # Inputs
//
//   - message: The user's message text.
//   - imageDataURIs: Inline images as data URIs. At most
//     datatypes.MaxImageAttachments.
//   - files: Document attachments. At most datatypes.MaxFileAttachments.
//
// # Outputs
//
//   - agent.InputItem: The assembled user message.
//   - error: *ValidationError naming every offending attachment, or nil.
func BuildUserMessage(message string, imageDataURIs []string,
	files []datatypes.FileAttachment) (agent.InputItem, error) {

	if len(imageDataURIs) == 0 && len(files) == 0 {
		return agent.InputItem{
			Role:  "user",
			Parts: []agent.ContentPart{{Type: "input_text", Text: message}},
		}, nil
	}

	parts := []agent.ContentPart{{Type: "input_text", Text: message}}
	var problems []string

	if len(imageDataURIs) > datatypes.MaxImageAttachments {
		return agent.InputItem{}, &ValidationError{Message: fmt.Sprintf(
			"Invalid image attachments: Too many images (%d), maximum %d allowed",
			len(imageDataURIs), datatypes.MaxImageAttachments)}
	}
	for i, dataURI := range imageDataURIs {
		part, problem := imagePart(i, dataURI)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		parts = append(parts, part)
	}

	if len(files) > datatypes.MaxFileAttachments {
		return agent.InputItem{}, &ValidationError{Message: fmt.Sprintf(
			"Invalid file attachments: Too many files (%d), maximum %d allowed",
			len(files), datatypes.MaxFileAttachments)}
	}
	for i, file := range files {
		part, keep, problem := filePart(i, file)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		if keep {
			parts = append(parts, part)
		}
	}

	if len(problems) > 0 {
		return agent.InputItem{}, &ValidationError{
			Message: "Invalid attachments: " + strings.Join(problems, "; "),
		}
	}
	return agent.InputItem{Role: "user", Parts: parts}, nil
}

// parseDataURI splits a data URI into its MIME type and decoded payload.
// The returned problem string is empty on success.
func parseDataURI(dataURI string) (mime string, payload []byte, problem string) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", nil, "Invalid format (must be data URI)"
	}
	semiIndex := strings.IndexByte(dataURI, ';')
	commaIndex := strings.IndexByte(dataURI, ',')
	if semiIndex < 0 || commaIndex < 0 || commaIndex < semiIndex {
		return "", nil, "Malformed data URI"
	}
	mime = strings.ToLower(dataURI[5:semiIndex])

	payload, err := base64.StdEncoding.DecodeString(dataURI[commaIndex+1:])
	if err != nil {
		return mime, nil, "Invalid Base64 encoding"
	}
	return mime, payload, ""
}

// imagePart validates one image data URI and builds its content part.
func imagePart(index int, dataURI string) (agent.ContentPart, string) {
	label := fmt.Sprintf("Image %d", index+1)

	mime, payload, problem := parseDataURI(dataURI)
	if problem != "" && mime == "" {
		return agent.ContentPart{}, fmt.Sprintf("%s: %s", label, problem)
	}
	if !allowedImageTypes[mime] {
		return agent.ContentPart{}, fmt.Sprintf(
			"%s: Unsupported type '%s'. Allowed: PNG, JPEG, GIF, WebP", label, mime)
	}
	if problem != "" {
		return agent.ContentPart{}, fmt.Sprintf("%s: %s", label, problem)
	}
	if len(payload) > datatypes.MaxImageBytes {
		sizeMB := float64(len(payload)) / (1024.0 * 1024.0)
		return agent.ContentPart{}, fmt.Sprintf(
			"%s: Size %.1fMB exceeds maximum 5MB", label, sizeMB)
	}
	return agent.ContentPart{Type: "input_image", ImageDataURI: dataURI}, ""
}

// filePart validates one file attachment and builds its content part. The
// keep flag is false when the attachment is valid but has no handling
// strategy and is dropped.
func filePart(index int, file datatypes.FileAttachment) (agent.ContentPart, bool, string) {
	label := fmt.Sprintf("File %d (%s)", index+1, file.FileName)

	mime, payload, problem := parseDataURI(file.DataURI)
	if problem != "" && mime == "" {
		return agent.ContentPart{}, false, fmt.Sprintf("%s: %s", label, problem)
	}
	if !allowedDocumentTypes[mime] {
		return agent.ContentPart{}, false, fmt.Sprintf(
			"%s: Unsupported type '%s'", label, mime)
	}
	if !strings.EqualFold(mime, file.MimeType) {
		return agent.ContentPart{}, false, fmt.Sprintf(
			"%s: MIME type mismatch (declared: %s, detected: %s)", label, file.MimeType, mime)
	}
	if problem != "" {
		return agent.ContentPart{}, false, fmt.Sprintf("%s: %s", label, problem)
	}
	if len(payload) > datatypes.MaxFileBytes {
		sizeMB := float64(len(payload)) / (1024.0 * 1024.0)
		return agent.ContentPart{}, false, fmt.Sprintf(
			"%s: Size %.1fMB exceeds maximum 20MB", label, sizeMB)
	}

	switch {
	case textBasedDocumentTypes[mime]:
		inline := fmt.Sprintf("\n\n--- Content of %s ---\n%s\n--- End of %s ---\n",
			file.FileName, string(payload), file.FileName)
		return agent.ContentPart{Type: "input_text", Text: inline}, true, ""
	case fileInputTypes[mime]:
		return agent.ContentPart{
			Type:     "input_file",
			FileName: file.FileName,
			MimeType: mime,
			FileData: base64.StdEncoding.EncodeToString(payload),
		}, true, ""
	default:
		// Allowed but unmatched by any strategy: dropped.
		return agent.ContentPart{}, false, ""
	}
}
