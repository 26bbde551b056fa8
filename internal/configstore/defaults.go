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

package configstore

func defaultVoiceMonitor() VoiceMonitorSection {
	return VoiceMonitorSection{
		Enabled:     true,
		Sensitivity: 0.7,
		SuspiciousKeywords: []string{
			"help", "emergency", "danger", "fire", "police", "attack",
			"threat", "weapon", "gun", "knife", "fight",
		},
	}
}

func defaultObjectDetection() ObjectDetectionSection {
	return ObjectDetectionSection{
		Enabled:             true,
		ConfidenceThreshold: 0.6,
		SuspiciousObjects: []string{
			"gun", "knife", "weapon", "bottle", "alcohol", "cigarette",
			"lighter", "scissors", "firearm", "syringe",
		},
	}
}

func defaultFaceRecognition() FaceRecognitionSection {
	return FaceRecognitionSection{
		Enabled:             true,
		ConfidenceThreshold: 0.8,
		KnownFacesPath:      "data/known_faces",
	}
}

func defaultStorage() StorageSection {
	return StorageSection{
		IncidentsPath: "data/incidents",
		LogsPath:      "data/logs",
		RetentionDays: 30,
	}
}

// DefaultDocument returns the full default config document used when the
// persisted file is missing or unreadable
func DefaultDocument() Document {
	doc := Document{}

	_ = doc.SetSection(SectionFaceRecognition, defaultFaceRecognition())
	_ = doc.SetSection(SectionVoiceMonitor, defaultVoiceMonitor())
	_ = doc.SetSection(SectionObjectDetection, defaultObjectDetection())
	_ = doc.SetSection(SectionActivityDetection, map[string]interface{}{
		"enabled":               true,
		"suspicious_activities": []string{"fighting", "theft", "vandalism"},
	})
	_ = doc.SetSection(SectionBuffer, map[string]interface{}{
		"video_buffer_size":     30,
		"audio_buffer_size":     10,
		"max_incident_duration": 60,
	})
	_ = doc.SetSection(SectionStorage, defaultStorage())

	return doc
}
