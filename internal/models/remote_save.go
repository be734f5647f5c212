package models

import "strings"

// DeviceSync is the server's view of one device's sync position for a save.
type DeviceSync struct {
	DeviceID  string `json:"device_id"`
	IsCurrent bool   `json:"is_current"`
}

// RemoteSave is a save file as listed by the save server.
type RemoteSave struct {
	ID           int64        `json:"id"`
	RomID        int64        `json:"rom_id"`
	FileName     string       `json:"file_name"`
	Emulator     string       `json:"emulator,omitempty"`
	Slot         string       `json:"slot,omitempty"`
	UpdatedAt    string       `json:"updated_at"`
	DownloadPath string       `json:"download_path,omitempty"`
	DeviceSyncs  []DeviceSync `json:"device_syncs,omitempty"`
}

// BaseName returns the file name without its extension. Compound bundle
// extensions such as ".gci.zip" are stripped whole.
func (s *RemoteSave) BaseName() string {
	name := s.FileName
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".gci.zip") {
		return name[:len(name)-len(".gci.zip")]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// Ext returns the extension including the dot, keeping ".gci.zip" whole.
func (s *RemoteSave) Ext() string {
	return s.FileName[len(s.BaseName()):]
}

// DeviceStatus reports whether deviceID is current for this save and whether
// the server tracks the device at all.
func (s *RemoteSave) DeviceStatus(deviceID string) (isCurrent, tracked bool) {
	if deviceID == "" {
		return false, false
	}
	for _, d := range s.DeviceSyncs {
		if d.DeviceID == deviceID {
			return d.IsCurrent, true
		}
	}
	return false, false
}

// MatchesEmulator reports whether the save belongs to emulatorID. Saves
// without an emulator tag match any emulator.
func (s *RemoteSave) MatchesEmulator(emulatorID string) bool {
	return s.Emulator == "" || strings.EqualFold(s.Emulator, emulatorID)
}
