package prefetch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	defaultCacheMaxAgeConstant            = 24 * time.Hour
	cacheMarkerSuffixConstant             = ".cached"
	cacheMarkerSeparatorConstant          = "|"
	cacheDirectoryPermissionConstant      = 0o755
	cacheMarkerPermissionConstant         = 0o644
	cacheLoggerMissingMessageConstant     = "prefetch cache logger not provided"
	cacheFileSystemMissingMessageConstant = "prefetch cache file system not provided"
	cacheDirectoryMissingMessageConstant  = "prefetch cache directory not provided"
	cacheMarkerWriteErrorTemplateConstant = "unable to record cache entry for %s: %w"
	cachePurgeErrorTemplateConstant       = "unable to purge prefetch cache: %w"
	cacheSizeErrorTemplateConstant        = "unable to measure prefetch cache: %w"
	cacheEntryEvictedMessageConstant      = "expired cache entry evicted"
	cacheEntrySkippedMessageConstant      = "expired cache entry left in place; still in flight"
	packageSpecLogFieldConstant           = "package_spec"
	cachedAtLogFieldConstant              = "cached_at"
)

var markerNameReplacer = strings.NewReplacer("/", "_", ":", "_", " ", "_")

// Cache tracks warmed package entries as one marker file per package spec.
// The marker records the spec and its warm timestamp; payload files written
// by the fetcher live alongside the markers in the cache directory.
type Cache struct {
	logger         *zap.Logger
	fileSystem     afero.Fs
	cacheDirectory string
	maxAge         time.Duration
	clock          func() time.Time
}

// NewCache constructs a Cache rooted at cacheDirectory. A non-positive max
// age falls back to the 24 hour default.
func NewCache(logger *zap.Logger, fileSystem afero.Fs, cacheDirectory string, maxAge time.Duration) (*Cache, error) {
	if logger == nil {
		return nil, errors.New(cacheLoggerMissingMessageConstant)
	}
	if fileSystem == nil {
		return nil, errors.New(cacheFileSystemMissingMessageConstant)
	}
	if len(strings.TrimSpace(cacheDirectory)) == 0 {
		return nil, errors.New(cacheDirectoryMissingMessageConstant)
	}
	if maxAge <= 0 {
		maxAge = defaultCacheMaxAgeConstant
	}
	return &Cache{
		logger:         logger,
		fileSystem:     fileSystem,
		cacheDirectory: cacheDirectory,
		maxAge:         maxAge,
		clock:          time.Now,
	}, nil
}

// Directory returns the cache root handed to fetchers.
func (cache *Cache) Directory() string {
	return cache.cacheDirectory
}

// MarkWarm records a fresh cache entry for the package spec.
func (cache *Cache) MarkWarm(packageSpec string) error {
	if directoryError := cache.fileSystem.MkdirAll(cache.cacheDirectory, cacheDirectoryPermissionConstant); directoryError != nil {
		return fmt.Errorf(cacheMarkerWriteErrorTemplateConstant, packageSpec, directoryError)
	}
	markerContent := packageSpec + cacheMarkerSeparatorConstant + cache.clock().UTC().Format(time.RFC3339)
	if writeError := afero.WriteFile(cache.fileSystem, cache.markerPath(packageSpec), []byte(markerContent), cacheMarkerPermissionConstant); writeError != nil {
		return fmt.Errorf(cacheMarkerWriteErrorTemplateConstant, packageSpec, writeError)
	}
	return nil
}

// IsWarm reports whether the package spec has an unexpired cache entry.
func (cache *Cache) IsWarm(packageSpec string) bool {
	cachedAt, found := cache.readMarker(packageSpec)
	if !found {
		return false
	}
	return cache.clock().Sub(cachedAt) < cache.maxAge
}

// SweepExpired evicts cache entries older than the max age. Entries named in
// inFlightSpecs are never touched regardless of age.
func (cache *Cache) SweepExpired(inFlightSpecs map[string]struct{}) int {
	evicted := 0
	_ = afero.Walk(cache.fileSystem, cache.cacheDirectory, func(candidatePath string, fileInfo fs.FileInfo, visitError error) error {
		if visitError != nil || fileInfo.IsDir() || !strings.HasSuffix(fileInfo.Name(), cacheMarkerSuffixConstant) {
			return nil
		}

		packageSpec, cachedAt, parsed := cache.parseMarkerFile(candidatePath)
		if !parsed {
			return nil
		}
		if cache.clock().Sub(cachedAt) < cache.maxAge {
			return nil
		}
		if _, inFlight := inFlightSpecs[packageSpec]; inFlight {
			cache.logger.Debug(cacheEntrySkippedMessageConstant, zap.String(packageSpecLogFieldConstant, packageSpec))
			return nil
		}

		if removeError := cache.fileSystem.Remove(candidatePath); removeError == nil {
			evicted++
			cache.logger.Debug(cacheEntryEvictedMessageConstant,
				zap.String(packageSpecLogFieldConstant, packageSpec),
				zap.Time(cachedAtLogFieldConstant, cachedAt),
			)
		}
		return nil
	})
	return evicted
}

// Purge removes the whole cache directory.
func (cache *Cache) Purge() error {
	removeError := cache.fileSystem.RemoveAll(cache.cacheDirectory)
	if removeError != nil && !errors.Is(removeError, os.ErrNotExist) {
		return fmt.Errorf(cachePurgeErrorTemplateConstant, removeError)
	}
	return nil
}

// Size returns the total bytes held under the cache directory.
func (cache *Cache) Size() (int64, error) {
	var totalBytes int64
	walkError := afero.Walk(cache.fileSystem, cache.cacheDirectory, func(_ string, fileInfo fs.FileInfo, visitError error) error {
		if visitError != nil {
			return visitError
		}
		if !fileInfo.IsDir() {
			totalBytes += fileInfo.Size()
		}
		return nil
	})
	if walkError != nil {
		if errors.Is(walkError, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf(cacheSizeErrorTemplateConstant, walkError)
	}
	return totalBytes, nil
}

func (cache *Cache) markerPath(packageSpec string) string {
	return filepath.Join(cache.cacheDirectory, markerNameReplacer.Replace(packageSpec)+cacheMarkerSuffixConstant)
}

func (cache *Cache) readMarker(packageSpec string) (time.Time, bool) {
	_, cachedAt, parsed := cache.parseMarkerFile(cache.markerPath(packageSpec))
	return cachedAt, parsed
}

func (cache *Cache) parseMarkerFile(markerFilePath string) (string, time.Time, bool) {
	markerContent, readError := afero.ReadFile(cache.fileSystem, markerFilePath)
	if readError != nil {
		return "", time.Time{}, false
	}
	separatorIndex := strings.LastIndex(string(markerContent), cacheMarkerSeparatorConstant)
	if separatorIndex <= 0 {
		return "", time.Time{}, false
	}
	cachedAt, parseError := time.Parse(time.RFC3339, strings.TrimSpace(string(markerContent)[separatorIndex+1:]))
	if parseError != nil {
		return "", time.Time{}, false
	}
	return string(markerContent)[:separatorIndex], cachedAt, true
}
