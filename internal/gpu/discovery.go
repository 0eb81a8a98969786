// Package gpu finds NVIDIA display controllers on the PCI bus through sysfs.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	pciDevicesPath = "bus/pci/devices"

	// NVIDIAVendorID is the PCI vendor id of NVIDIA Corporation.
	NVIDIAVendorID = "10de"

	// displayClassPrefix matches PCI base class 0x03 (VGA, XGA and 3D controllers).
	displayClassPrefix = "03"
)

// Info describes a single NVIDIA device found on the PCI bus.
type Info struct {
	PCI    string `json:"pci"`
	PCIID  string `json:"pci_id"`
	Class  string `json:"class"`
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

// Discover enumerates NVIDIA display controllers under <root>/bus/pci/devices.
// A missing PCI tree is not an error and yields no devices.
func Discover(root string, logger *slog.Logger) ([]Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), pciDevicesPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("pci device path missing", "path", filepath.Join(root, pciDevicesPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read pci devices dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		slot := entry.Name()
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		deviceRoot, err := sysRoot.OpenRoot(filepath.Join(pciDevicesPath, slot))
		if err != nil {
			logger.Debug("failed to open pci device", "pci", slot, "err", err)
			continue
		}

		info, ok := loadDeviceInfo(slot, deviceRoot)
		if err := deviceRoot.Close(); err != nil {
			logger.Debug("failed to close pci device", "pci", slot, "err", err)
		}
		if !ok {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].PCI < infos[j].PCI
	})
	return infos, nil
}

// loadDeviceInfo reads one PCI function and reports whether it is an NVIDIA
// display controller.
func loadDeviceInfo(slot string, deviceRoot *os.Root) (Info, bool) {
	vendor, err := readTrim(deviceRoot, "vendor")
	if err != nil || normalizePCIID(vendor) != NVIDIAVendorID {
		return Info{}, false
	}
	class, err := readTrim(deviceRoot, "class")
	if err != nil {
		return Info{}, false
	}
	class = strings.TrimPrefix(strings.ToLower(class), "0x")
	if !strings.HasPrefix(class, displayClassPrefix) {
		return Info{}, false
	}

	var (
		pciID     string
		driver    string
		subVendor string
		subDevice string
	)

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		if name := parseKeyValue(text, "PCI_SLOT_NAME"); name != "" {
			slot = name
		}
		pciID = parseKeyValue(text, "PCI_ID")
		driver = parseKeyValue(text, "DRIVER")
		if subsys := parseKeyValue(text, "PCI_SUBSYS_ID"); subsys != "" {
			subVendor, subDevice = splitPCIIdentifier(subsys)
		}
	}

	if pciID == "" {
		if device, err := readTrim(deviceRoot, "device"); err == nil {
			pciID = formatHexPair(vendor, device)
		}
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	ids := pciIDs{subVendor: normalizePCIID(subVendor), subDevice: normalizePCIID(subDevice)}
	ids.vendor, ids.device = splitPCIIdentifier(pciID)
	name := resolveName(loadIDsDatabase(), ids)
	if name == "" {
		name = "NVIDIA PCI device " + strings.ToLower(pciID)
	}

	return Info{
		PCI:    slot,
		PCIID:  strings.ToLower(pciID),
		Class:  class,
		Name:   name,
		Driver: driver,
	}, true
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func formatHexPair(vendor, device string) string {
	return strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
}
