package sync

import (
	"regexp"
	"strings"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
)

// DefaultSaveName is the base file name of the default channel on the server
// when the rom name is unknown.
const DefaultSaveName = "argosy-latest"

// MinValidSaveSize is the size at or below which a save is treated as empty.
const MinValidSaveSize = 100

var (
	timestampOnlyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[_-]\d{2}[_-]\d{2}[_-]\d{2}$`)
	rommTimestampTag     = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}-\d{2}-\d{2}(-\d+)?\]$`)
)

// IsTimestampSaveName reports whether base is a bare timestamp such as
// "2024-01-31_18-00-00". Such saves never name a channel.
func IsTimestampSaveName(base string) bool {
	return timestampOnlyPattern.MatchString(base)
}

// IsLatestSaveFileName reports whether fileName belongs to the default
// channel: the sentinel name, the rom base name, or the rom base name
// followed by a server timestamp tag.
func IsLatestSaveFileName(fileName, romBase string) bool {
	base := (&models.RemoteSave{FileName: fileName}).BaseName()
	if strings.EqualFold(base, DefaultSaveName) {
		return true
	}
	if romBase == "" {
		return false
	}
	if strings.EqualFold(base, romBase) {
		return true
	}
	if len(base) > len(romBase) && strings.EqualFold(base[:len(romBase)], romBase) {
		suffix := strings.TrimSpace(base[len(romBase):])
		return suffix == "" || rommTimestampTag.MatchString(suffix)
	}
	return false
}

// ChannelForFileName maps a server file name to a local channel: "" for the
// default channel, the base name otherwise. ok is false for timestamp-only
// names, which belong to no channel.
func ChannelForFileName(fileName, romBase string) (channel string, ok bool) {
	base := (&models.RemoteSave{FileName: fileName}).BaseName()
	if IsTimestampSaveName(base) {
		return "", false
	}
	if IsLatestSaveFileName(fileName, romBase) {
		return "", true
	}
	return base, true
}

// UploadFileName names an upload: the channel, else the rom base name, else
// the default sentinel, with the artifact extension.
func UploadFileName(channel, romBase, ext string) string {
	base := channel
	if base == "" {
		base = romBase
	}
	if base == "" {
		base = DefaultSaveName
	}
	return base + ext
}

// selectLatestSave picks the server save that represents the newest revision
// of a channel.
func selectLatestSave(saves []models.RemoteSave, channel, romBase string, preferZip bool) *models.RemoteSave {
	if channel != "" {
		var best *models.RemoteSave
		for i := range saves {
			s := &saves[i]
			if s.Slot != channel {
				continue
			}
			if best == nil || remote.ParseTimestamp(s.UpdatedAt).After(remote.ParseTimestamp(best.UpdatedAt)) {
				best = s
			}
		}
		if best != nil {
			return best
		}
		for i := range saves {
			if strings.EqualFold(saves[i].BaseName(), channel) {
				return &saves[i]
			}
		}
		return nil
	}

	var candidates []*models.RemoteSave
	for i := range saves {
		if IsLatestSaveFileName(saves[i].FileName, romBase) {
			candidates = append(candidates, &saves[i])
		}
	}
	return pickCandidate(candidates, preferZip, true)
}

// selectExistingSave picks the server save an upload should update in place.
func selectExistingSave(saves []models.RemoteSave, channel, romBase string, preferZip bool) *models.RemoteSave {
	var candidates []*models.RemoteSave
	for i := range saves {
		base := saves[i].BaseName()
		var match bool
		if channel != "" {
			match = strings.EqualFold(base, channel)
		} else {
			match = strings.EqualFold(base, DefaultSaveName) || (romBase != "" && strings.EqualFold(base, romBase))
		}
		if match {
			candidates = append(candidates, &saves[i])
		}
	}
	return pickCandidate(candidates, preferZip, false)
}

func pickCandidate(candidates []*models.RemoteSave, preferZip, newest bool) *models.RemoteSave {
	if len(candidates) == 0 {
		return nil
	}
	if preferZip && len(candidates) > 1 {
		for _, c := range candidates {
			if strings.HasSuffix(strings.ToLower(c.FileName), ".zip") {
				return c
			}
		}
	}
	best := candidates[0]
	if newest {
		for _, c := range candidates[1:] {
			if remote.ParseTimestamp(c.UpdatedAt).After(remote.ParseTimestamp(best.UpdatedAt)) {
				best = c
			}
		}
	}
	return best
}
