//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion is the ONNX runtime version matching the
// onnxruntime_go dependency. Update when bumping it in go.mod.
const DefaultONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates the current OS/arch is not supported.
var ErrUnsupportedPlatform = fmt.Errorf("unsupported platform")

// platformArchMap maps GOOS/GOARCH to ONNX release archive names.
var platformArchMap = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

// libraryNames maps GOOS to the shared library filename.
var libraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

// platformArchive returns the ONNX release archive name for the given OS/arch.
func platformArchive(goos, goarch string) (string, error) {
	archMap, ok := platformArchMap[goos]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	arch, ok := archMap[goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return arch, nil
}

// libraryName returns the shared library filename for the given OS.
func libraryName(goos string) string {
	if name, ok := libraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

// onnxInstallDir returns the directory where the ONNX runtime is installed.
func onnxInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "workspaced", "lib")
}

// ONNXLibraryPath returns the path to the ONNX runtime library, checking
// the ONNX_PATH environment variable first and the managed install second.
// Returns an empty string if not found.
func ONNXLibraryPath() string {
	if envPath := os.Getenv("ONNX_PATH"); envPath != "" {
		return envPath
	}

	managedPath := filepath.Join(onnxInstallDir(), libraryName(runtime.GOOS))
	if _, err := os.Stat(managedPath); err == nil {
		return managedPath
	}
	return ""
}

// ONNXRuntimeExists checks if the ONNX runtime is available.
func ONNXRuntimeExists() bool {
	return ONNXLibraryPath() != ""
}

const onnxReleaseURLTemplate = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// buildDownloadURL constructs the GitHub release URL for the ONNX runtime.
func buildDownloadURL(version, platform string) string {
	return fmt.Sprintf(onnxReleaseURLTemplate, version, platform, version)
}

// DownloadONNXRuntime downloads the ONNX runtime for the current platform.
// If version is empty, DefaultONNXRuntimeVersion is used.
func DownloadONNXRuntime(ctx context.Context, version string) error {
	if version == "" {
		version = DefaultONNXRuntimeVersion
	}
	return downloadONNXRuntimeTo(ctx, version, onnxInstallDir())
}

// downloadONNXRuntimeTo downloads the ONNX runtime into destDir.
func downloadONNXRuntimeTo(ctx context.Context, version, destDir string) error {
	platform, err := platformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildDownloadURL(version, platform), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if err := extractONNXLibs(resp.Body, destDir, version, platform); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	return nil
}

// extractONNXLibs extracts library files from the ONNX runtime tarball.
// The archive carries the shared library plus symlinks under lib/; everything
// from that directory is extracted as-is.
func extractONNXLibs(r io.Reader, destDir, version, platform string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	wantPrefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version)
	libName := libraryName(runtime.GOOS)

	var foundMainLib bool
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, wantPrefix) || header.Typeflag == tar.TypeDir {
			continue
		}

		filename := filepath.Base(name)
		destPath := filepath.Join(destDir, filename)

		if header.Typeflag == tar.TypeSymlink {
			os.Remove(destPath)
			if err := os.Symlink(header.Linkname, destPath); err != nil {
				// The regular file extraction below covers the target
				continue
			}
			if filename == libName {
				foundMainLib = true
			}
			continue
		}

		outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", filename, err)
		}
		if _, err := io.Copy(outFile, tr); err != nil {
			outFile.Close()
			return fmt.Errorf("writing file %s: %w", filename, err)
		}
		outFile.Close()

		if filename == libName || strings.HasPrefix(filename, libName+".") {
			foundMainLib = true
		}
	}

	if !foundMainLib {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

// setONNXPathEnv sets the ONNX_PATH environment variable used by
// fastembed-go to locate the library. A variable for testability.
var setONNXPathEnv = func(path string) error {
	return os.Setenv("ONNX_PATH", path)
}

// EnsureONNXRuntime ensures the ONNX runtime is available, downloading it if
// needed. Returns the path to the library file.
func EnsureONNXRuntime(ctx context.Context, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if path := ONNXLibraryPath(); path != "" {
		return path, nil
	}

	log.Info("ONNX runtime not found, downloading",
		zap.String("version", DefaultONNXRuntimeVersion),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
	)

	if err := DownloadONNXRuntime(ctx, ""); err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w (set ONNX_PATH to use a pre-installed library)", err)
	}

	path := ONNXLibraryPath()
	if path == "" {
		return "", fmt.Errorf("ONNX runtime download completed but library not found")
	}

	log.Info("ONNX runtime installed", zap.String("path", path))
	return path, nil
}
