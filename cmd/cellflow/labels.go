package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cellflow/internal/queue"
)

var titleCaser = cases.Title(language.English)

// statusLabel renders "waiting-children" as "Waiting Children".
func statusLabel(status queue.Status) string {
	return titleCaser.String(strings.ReplaceAll(string(status), "-", " "))
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, ok := lookupStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q (want one of %s)", part, strings.Join(statusNames(), ", "))
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func lookupStatus(value string) (queue.Status, bool) {
	for _, status := range queue.AllStatuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

func statusNames() []string {
	names := make([]string, 0, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		names = append(names, string(status))
	}
	return names
}
