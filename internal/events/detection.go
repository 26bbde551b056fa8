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

package events

import "strings"

// Detection is one per-frame bounding box returned by the detector endpoint.
// The slice a frame produced is replaced wholesale on the next poll cycle.
type Detection struct {
	BBox       [4]float64 `json:"bbox"` // [x1, y1, x2, y2]
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Harmful    bool       `json:"harmful"`
	Reason     string     `json:"reason"`
}

// IsPerson reports whether the detection is a person, used for
// multi-person alerting
func (d Detection) IsPerson() bool {
	return strings.EqualFold(d.Label, "person")
}
