// Copyright (c) 2026 Timekeep Systems AB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailbox

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message"

	// Register common charsets so non-UTF-8 alert mails decode.
	_ "github.com/emersion/go-message/charset"
)

// UnreadableBody is recorded verbatim when a message body cannot be
// extracted. The alert still flows through matching and dispatch; a
// broken body must not hide an outage mail.
const UnreadableBody = "Error downloading content"

// ExtractBody flattens a raw RFC 822 message into plain text.
//
// Policy: text/plain and text/html are read directly; multipart/* is
// walked recursively, concatenating every text/plain part found. When a
// multipart offers both plain and HTML renditions, the plain parts win so
// the same text is not duplicated. Anything unreadable yields
// UnreadableBody.
func ExtractBody(raw []byte) string {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return UnreadableBody
	}
	text, ok := collectText(entity)
	if !ok {
		return UnreadableBody
	}
	return text
}

// collectText walks one MIME entity. The bool is false when the entity is
// unreadable (parse or decode failure), as opposed to readable but empty.
func collectText(entity *message.Entity) (string, bool) {
	mediaType, _, err := entity.Header.ContentType()
	if err != nil {
		return "", false
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := entity.MultipartReader()
		if mr == nil {
			return "", false
		}

		var plains, htmls []string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				if message.IsUnknownCharset(err) {
					continue
				}
				return "", false
			}

			partType, _, _ := part.Header.ContentType()
			switch {
			case strings.HasPrefix(partType, "multipart/"):
				if nested, ok := collectText(part); ok && nested != "" {
					plains = append(plains, nested)
				}
			case partType == "text/plain":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					return "", false
				}
				plains = append(plains, string(body))
			case partType == "text/html":
				if body, err := io.ReadAll(part.Body); err == nil {
					htmls = append(htmls, string(body))
				}
			}
		}

		if len(plains) > 0 {
			return strings.Join(plains, "\n"), true
		}
		if len(htmls) > 0 {
			return htmls[0], true
		}
		// No text rendition anywhere in the tree.
		return "", false

	case mediaType == "text/plain", mediaType == "text/html":
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", false
		}
		return string(body), true

	default:
		// Single-part message with no text rendition at all.
		return "", false
	}
}
