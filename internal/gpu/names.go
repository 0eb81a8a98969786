package gpu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// pciIDs are the normalized identifiers of one PCI function.
type pciIDs struct {
	vendor    string
	device    string
	subVendor string
	subDevice string
}

var loadIDsDatabase = sync.OnceValue(func() *pcidb.PCIDB {
	db, err := pcidb.New()
	if err != nil {
		return nil
	}
	return db
})

// resolveName looks up the chip name for an NVIDIA device in the PCI ids
// database. Subsystem names are only taken from NVIDIA-branded boards since
// partner entries describe the retail card rather than the GPU. It returns ""
// for non-NVIDIA ids or when the database has no entry.
func resolveName(db *pcidb.PCIDB, ids pciIDs) string {
	if db == nil || ids.vendor != NVIDIAVendorID || ids.device == "" {
		return ""
	}

	product := db.Products[ids.vendor+ids.device]
	if product == nil {
		return ""
	}

	if ids.subVendor == NVIDIAVendorID && ids.subDevice != "" {
		for _, board := range product.Subsystems {
			if board != nil && board.Name != "" && strings.EqualFold(board.VendorID, ids.subVendor) && strings.EqualFold(board.ID, ids.subDevice) {
				return board.Name
			}
		}
	}

	return product.Name
}

// normalizePCIID turns sysfs and uevent hex ids ("0x10DE", "10de") into the
// four digit lowercase form used as pcidb keys. Unparseable input yields "".
func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(strings.ToLower(value), "0x")
	if value == "" {
		return ""
	}
	id, err := strconv.ParseUint(value, 16, 16)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%04x", id)
}

// splitPCIIdentifier splits a "vendor:device" pair as found in PCI_ID and
// PCI_SUBSYS_ID.
func splitPCIIdentifier(pair string) (string, string) {
	vendor, device, ok := strings.Cut(pair, ":")
	if !ok {
		return "", ""
	}
	return normalizePCIID(vendor), normalizePCIID(device)
}
