//go:build cgo

package embeddings

import (
	"errors"
	"testing"
)

func TestPlatformArchive(t *testing.T) {
	tests := []struct {
		goos    string
		goarch  string
		want    string
		wantErr bool
	}{
		{"linux", "amd64", "linux-x64", false},
		{"linux", "arm64", "linux-aarch64", false},
		{"darwin", "amd64", "osx-x86_64", false},
		{"darwin", "arm64", "osx-arm64", false},
		{"windows", "amd64", "", true},
		{"linux", "riscv64", "", true},
	}

	for _, tt := range tests {
		got, err := platformArchive(tt.goos, tt.goarch)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedPlatform) {
				t.Errorf("platformArchive(%s, %s): want ErrUnsupportedPlatform, got %v", tt.goos, tt.goarch, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("platformArchive(%s, %s): unexpected error %v", tt.goos, tt.goarch, err)
			continue
		}
		if got != tt.want {
			t.Errorf("platformArchive(%s, %s) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func TestLibraryName(t *testing.T) {
	if got := libraryName("linux"); got != "libonnxruntime.so" {
		t.Errorf("linux: got %q", got)
	}
	if got := libraryName("darwin"); got != "libonnxruntime.dylib" {
		t.Errorf("darwin: got %q", got)
	}
	if got := libraryName("plan9"); got != "libonnxruntime.so" {
		t.Errorf("fallback: got %q", got)
	}
}

func TestBuildDownloadURL(t *testing.T) {
	got := buildDownloadURL("1.23.0", "linux-x64")
	want := "https://github.com/microsoft/onnxruntime/releases/download/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestONNXLibraryPathEnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")

	if got := ONNXLibraryPath(); got != "/opt/onnx/libonnxruntime.so" {
		t.Errorf("got %q", got)
	}
	if !ONNXRuntimeExists() {
		t.Error("expected runtime to exist via env override")
	}
}
