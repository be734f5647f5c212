package format

import (
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// switchEmulators all store one folder per title.
var switchEmulators = []string{"yuzu", "ryujinx", "citron", "strato", "eden", "sudachi", "skyline"}

// Registry selects a Handler by emulator id, then platform slug, falling back
// to the plain file handler.
type Registry struct {
	mu        sync.RWMutex
	fs        afero.Fs
	emulators map[string]Profile
	platforms map[string]Profile
	bundles   map[string]*BundleHandler
	file      *FileHandler
	folder    *FolderHandler
}

// NewRegistry creates a registry preloaded with the built-in profiles.
func NewRegistry(fs afero.Fs) *Registry {
	r := &Registry{
		fs:        fs,
		emulators: make(map[string]Profile),
		platforms: make(map[string]Profile),
		bundles:   make(map[string]*BundleHandler),
		file:      NewFileHandler(fs),
		folder:    NewFolderHandler(fs),
	}

	folder := Profile{Family: FamilyFolder}
	for _, id := range switchEmulators {
		r.emulators[id] = folder
	}
	for _, id := range []string{"vita3k", "ppsspp", "cemu", "citra", "lime3ds", "azahar"} {
		r.emulators[id] = folder
	}
	r.emulators["retroarch"] = Profile{Family: FamilyFile}
	r.emulators["retroarch_64"] = Profile{Family: FamilyFile}
	r.emulators["dolphin"] = Profile{Family: FamilyBundle, BundleExt: ".gci"}

	for _, slug := range []string{"switch", "3ds", "psvita", "vita", "psp", "wiiu"} {
		r.platforms[slug] = folder
	}
	r.platforms["ngc"] = Profile{Family: FamilyBundle, BundleExt: ".gci"}
	return r
}

// RegisterEmulator overrides the profile of an emulator.
func (r *Registry) RegisterEmulator(emulatorID string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emulators[strings.ToLower(emulatorID)] = p
}

// RegisterPlatform overrides the profile of a platform.
func (r *Registry) RegisterPlatform(platformSlug string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[strings.ToLower(platformSlug)] = p
}

// Profile returns the effective profile for an emulator on a platform.
func (r *Registry) Profile(emulatorID, platformSlug string) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.emulators[strings.ToLower(emulatorID)]; ok && p.Family.Valid() {
		return p
	}
	if p, ok := r.platforms[strings.ToLower(platformSlug)]; ok && p.Family.Valid() {
		return p
	}
	return Profile{Family: FamilyFile}
}

// Lookup returns the handler and profile for an emulator on a platform.
func (r *Registry) Lookup(emulatorID, platformSlug string) (Handler, Profile) {
	p := r.Profile(emulatorID, platformSlug)
	switch p.Family {
	case FamilyFolder:
		return r.folder, p
	case FamilyBundle:
		return r.bundle(p.BundleExt), p
	default:
		return r.file, p
	}
}

func (r *Registry) bundle(ext string) *BundleHandler {
	key := strings.ToLower(ext)
	r.mu.RLock()
	h, ok := r.bundles[key]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.bundles[key]; ok {
		return h
	}
	h = NewBundleHandler(r.fs, ext)
	r.bundles[key] = h
	return h
}
