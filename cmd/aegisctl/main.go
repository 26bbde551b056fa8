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

// aegisctl is a small CLI for the Aegis hub HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
)

const defaultHubURL = "http://localhost:8090"

type cli struct {
	hubURL string
	format string
	client *http.Client
}

func main() {
	var (
		hubURL = pflag.String("hub", defaultHubURL, "URL of the Aegis hub")
		format = pflag.String("format", "table", "Output format: table, json")
		module = pflag.String("module", "", "Filter incidents by module (archive)")
		limit  = pflag.Int("limit", 20, "Max archived incidents to list")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: aegisctl [flags] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  status           Show backend and detector state\n")
		fmt.Fprintf(os.Stderr, "  start            Start monitoring\n")
		fmt.Fprintf(os.Stderr, "  stop             Stop monitoring\n")
		fmt.Fprintf(os.Stderr, "  incidents        List incidents from the incident file\n")
		fmt.Fprintf(os.Stderr, "  archive          List archived incidents\n")
		fmt.Fprintf(os.Stderr, "  detections       Show the current detection set\n")
		fmt.Fprintf(os.Stderr, "  config get       Print the config document\n")
		fmt.Fprintf(os.Stderr, "  config set FILE  Replace the config document from FILE\n")
		fmt.Fprintf(os.Stderr, "  storage-dir DIR  Set the recording storage directory\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	c := &cli{
		hubURL: *hubURL,
		format: *format,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch args[0] {
	case "status":
		err = c.status()
	case "start":
		err = c.command(http.MethodPost, "/api/monitor/start", nil)
	case "stop":
		err = c.command(http.MethodPost, "/api/monitor/stop", nil)
	case "incidents":
		err = c.incidents("/api/incidents")
	case "archive":
		path := fmt.Sprintf("/api/incidents?archive=true&limit=%d", *limit)
		if *module != "" {
			path += "&module=" + *module
		}
		err = c.archive(path)
	case "detections":
		err = c.raw("/api/detections")
	case "config":
		if len(args) < 2 {
			err = fmt.Errorf("config requires get or set")
			break
		}
		switch args[1] {
		case "get":
			err = c.raw("/api/config")
		case "set":
			if len(args) < 3 {
				err = fmt.Errorf("config set requires a file")
				break
			}
			err = c.configSet(args[2])
		default:
			err = fmt.Errorf("unknown config subcommand %q", args[1])
		}
	case "storage-dir":
		if len(args) < 2 {
			err = fmt.Errorf("storage-dir requires a path")
			break
		}
		body, _ := json.Marshal(map[string]string{"path": args[1]})
		err = c.command(http.MethodPost, "/api/storage/dir", body)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *cli) do(method, path string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequest(method, c.hubURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected response: %s", raw)
	}
	if !env.Success {
		return nil, fmt.Errorf("hub error: %s", env.Error)
	}
	return env.Data, nil
}

func (c *cli) status() error {
	data, err := c.do(http.MethodGet, "/api/monitor/status", nil)
	if err != nil {
		return err
	}

	if c.format == "json" {
		return printJSON(data)
	}

	var status struct {
		Backend struct {
			State      string `json:"state"`
			PID        int    `json:"pid"`
			Monitoring bool   `json:"monitoring"`
			Restarts   int    `json:"restarts"`
		} `json:"backend"`
		DetectorHealthy bool `json:"detector_healthy"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "BACKEND\t%s\n", status.Backend.State)
	if status.Backend.PID != 0 {
		fmt.Fprintf(w, "PID\t%d\n", status.Backend.PID)
	}
	fmt.Fprintf(w, "MONITORING\t%t\n", status.Backend.Monitoring)
	fmt.Fprintf(w, "RESTARTS\t%d\n", status.Backend.Restarts)
	fmt.Fprintf(w, "DETECTOR\t%t\n", status.DetectorHealthy)
	return w.Flush()
}

func (c *cli) command(method, path string, body []byte) error {
	data, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	return printJSON(data)
}

type incidentRow struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Module     string            `json:"module"`
	Type       string            `json:"type"`
	Confidence float64           `json:"confidence"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details"`
}

func (c *cli) incidents(path string) error {
	data, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if c.format == "json" {
		return printJSON(data)
	}

	var rows []incidentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	return printIncidents(rows)
}

func (c *cli) archive(path string) error {
	data, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if c.format == "json" {
		return printJSON(data)
	}

	var page struct {
		Incidents []incidentRow `json:"incidents"`
		Total     int64         `json:"total"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	if err := printIncidents(page.Incidents); err != nil {
		return err
	}
	fmt.Printf("total: %d\n", page.Total)
	return nil
}

func printIncidents(rows []incidentRow) error {
	if len(rows) == 0 {
		fmt.Println("no incidents")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMODULE\tTYPE\tSEVERITY\tCONFIDENCE")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n",
			row.Timestamp.Format(time.RFC3339), row.Module, row.Type, row.Severity, row.Confidence)
	}
	return w.Flush()
}

func (c *cli) raw(path string) error {
	data, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func (c *cli) configSet(file string) error {
	body, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	// Validate before sending
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%s is not a JSON object: %w", file, err)
	}

	data, err := c.do(http.MethodPut, "/api/config", body)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func printJSON(data json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(out.String())
	return nil
}
