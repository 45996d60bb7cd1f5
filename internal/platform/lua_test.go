package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestInjectPlatformTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{
		OS:       "linux",
		Arch:     "arm64",
		ArchRaw:  "aarch64",
		Bits:     64,
		Platform: "ubuntu",
		Family:   FamilyDebian,
		Version:  "24.04",
	}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want lua.LValue
	}{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("arm64")},
		{"arch_raw", `return platform.arch_raw`, lua.LString("aarch64")},
		{"bits", `return platform.bits`, lua.LNumber(64)},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_macos", `return platform.is_macos`, lua.LFalse},
		{"is_intel", `return platform.is_intel`, lua.LFalse},
		{"is_arm", `return platform.is_arm`, lua.LTrue},
		{"is_64_bit", `return platform.is_64_bit`, lua.LTrue},
		{"distro.id", `return platform.distro.id`, lua.LString("ubuntu")},
		{"is_debian_family", `return platform.is_debian_family`, lua.LTrue},
		{"when true", `return platform.when(platform.is_linux, "yes")`, lua.LString("yes")},
		{"when false", `return platform.when(platform.is_macos, "yes")`, lua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("DoString() error = %v", err)
			}
			got := L.Get(-1)
			L.Pop(1)
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_NoDistroOffLinux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "darwin", Arch: "arm64", Bits: 64}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}
	if err := L.DoString(`assert(platform.distro == nil); assert(platform.is_apple_silicon)`); err != nil {
		t.Errorf("unexpected table contents: %v", err)
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "linux", Arch: "amd64", Bits: 64}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	err := L.DoString(`platform.os = "windows"`)
	if err == nil {
		t.Fatal("expected write to fail")
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("unexpected error: %v", err)
	}
}
