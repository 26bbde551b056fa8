/*
 * This file is part of Aegis (https://github.com/aegislabs/aegis).
 * Copyright (C) 2025 Aegis Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package orchestrator

import (
	"encoding/json"
	"strings"
)

// messagePrefix marks structured backend output. Lines carrying it are
// decoded into typed messages; everything else passes through verbatim
// as a log event.
const messagePrefix = "FRONTEND_MESSAGE: "

// Message types emitted by the inference backend
const (
	MessageTypeIncident   = "incident"
	MessageTypeStatus     = "status"
	MessageTypeTranscript = "transcript"
	MessageTypeAudioClip  = "audio_clip"
	MessageTypeLog        = "log"
)

// Message is a structured line from the backend's stdout
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// parseMessage extracts a structured message from a stdout line.
// Returns false when the line is not a frontend message or the payload
// does not decode, in which case the caller relays the raw line.
func parseMessage(line string) (Message, bool) {
	rest, found := strings.CutPrefix(line, messagePrefix)
	if !found {
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(rest), &msg); err != nil {
		return Message{}, false
	}
	if msg.Type == "" {
		return Message{}, false
	}
	return msg, true
}
