package nvsmi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	deviceFieldCount  = 9
	processFieldCount = 4
	bytesPerMiB       = 1024 * 1024
)

var (
	deviceQueryFields = []string{
		"index",
		"name",
		"memory.total",
		"memory.used",
		"utilization.gpu",
		"temperature.gpu",
		"power.draw",
		"power.limit",
		"uuid",
	}
	processQueryFields = []string{
		"gpu_uuid",
		"pid",
		"process_name",
		"used_memory",
	}
)

// ParseDevices converts the device query output into rows. Lines that do not
// have exactly nine fields, or whose index, uuid or memory columns cannot be
// read, are skipped.
func ParseDevices(raw []byte, logger *slog.Logger) []DeviceRow {
	logger = orDiscard(logger)

	var rows []DeviceRow
	forEachRecord(raw, deviceFieldCount, func(fields []string) {
		row, err := parseDeviceRecord(fields)
		if err != nil {
			logger.Debug("skipping device row", "fields", fields, "err", err)
			return
		}
		rows = append(rows, row)
	})
	return rows
}

// ParseProcesses converts the compute-apps query output into rows grouped by
// GPU uuid. resolveUser may be nil; a nil result leaves the username absent.
func ParseProcesses(raw []byte, resolveUser func(pid int) *string, logger *slog.Logger) map[string][]ProcessRow {
	logger = orDiscard(logger)

	processes := make(map[string][]ProcessRow)
	forEachRecord(raw, processFieldCount, func(fields []string) {
		gpuUUID, pidStr, name, usedMem := fields[0], fields[1], fields[2], fields[3]

		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			logger.Debug("skipping process row", "fields", fields, "err", err)
			return
		}

		row := ProcessRow{
			PID:  pid,
			Name: name,
		}
		if mem, err := parseMiB(usedMem); err == nil {
			row.MemoryBytes = &mem
		}
		if resolveUser != nil {
			row.User = resolveUser(pid)
		}

		processes[gpuUUID] = append(processes[gpuUUID], row)
	})
	return processes
}

func parseDeviceRecord(fields []string) (DeviceRow, error) {
	idx, name, memTotal, memUsed, util, temp, powerDraw, powerLimit, uuid :=
		fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7], fields[8]

	slot, err := strconv.Atoi(idx)
	if err != nil {
		return DeviceRow{}, fmt.Errorf("parse index: %w", err)
	}
	if uuid == "" {
		return DeviceRow{}, errors.New("empty uuid")
	}

	totalBytes, err := parseMiB(memTotal)
	if err != nil {
		return DeviceRow{}, fmt.Errorf("parse memory.total: %w", err)
	}
	usedBytes, err := parseMiB(memUsed)
	if err != nil {
		return DeviceRow{}, fmt.Errorf("parse memory.used: %w", err)
	}

	row := DeviceRow{
		Slot:             slot,
		UUID:             uuid,
		Name:             name,
		MemoryTotalBytes: totalBytes,
		MemoryUsedBytes:  usedBytes,
		Utilization:      parseOptional(util),
		TemperatureC:     parseOptional(temp),
		PowerWatts:       parseOptional(powerDraw),
		PowerLimitWatts:  parseOptional(powerLimit),
	}
	if totalBytes > 0 {
		pct := float64(usedBytes) / float64(totalBytes) * 100
		row.MemoryUtilization = &pct
	}
	return row, nil
}

func forEachRecord(raw []byte, fieldCount int, fn func(fields []string)) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if fields := splitRecord(line); len(fields) == fieldCount {
			fn(fields)
		}
	}
}

func splitRecord(line string) []string {
	parts := strings.Split(line, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// parseMiB converts a MiB column into bytes, truncating fractional bytes.
func parseMiB(value string) (int64, error) {
	if unavailable(value) {
		return 0, fmt.Errorf("value %q unavailable", value)
	}
	mib, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if mib < 0 {
		return 0, fmt.Errorf("negative value %q", value)
	}
	return int64(mib * bytesPerMiB), nil
}

func parseOptional(value string) *float64 {
	if unavailable(value) {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

// unavailable reports empty columns and the bracketed markers the tool prints
// for unsupported sensors, such as "[N/A]" or "[Not Supported]".
func unavailable(value string) bool {
	if value == "" {
		return true
	}
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		return true
	}
	return strings.EqualFold(value, "N/A")
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
