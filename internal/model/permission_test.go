package model

import "testing"

func TestPermissionSetImplies(t *testing.T) {
	tests := []struct {
		name     string
		held     []PermissionCode
		required PermissionCode
		want     bool
	}{
		{"owner implies owner", []PermissionCode{PermNamespaceOwner}, PermNamespaceOwner, true},
		{"owner implies admin", []PermissionCode{PermNamespaceOwner}, PermNamespaceAdmin, true},
		{"owner implies edit", []PermissionCode{PermNamespaceOwner}, PermNamespaceEdit, true},
		{"owner implies package-create", []PermissionCode{PermNamespaceOwner}, PermPackageCreate, true},
		{"owner implies package-edit", []PermissionCode{PermNamespaceOwner}, PermPackageEdit, true},
		{"admin implies edit", []PermissionCode{PermNamespaceAdmin}, PermNamespaceEdit, true},
		{"admin implies package-create", []PermissionCode{PermNamespaceAdmin}, PermPackageCreate, true},
		{"admin does not imply owner", []PermissionCode{PermNamespaceAdmin}, PermNamespaceOwner, false},
		{"edit does not imply admin", []PermissionCode{PermNamespaceEdit}, PermNamespaceAdmin, false},
		{"edit does not imply package-edit", []PermissionCode{PermNamespaceEdit}, PermPackageEdit, false},
		{"package-edit implies itself", []PermissionCode{PermPackageEdit}, PermPackageEdit, true},
		{"empty set implies nothing", nil, PermPackageEdit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPermissionSet(tt.held...)
			if got := s.Implies(tt.required); got != tt.want {
				t.Fatalf("Implies(%s) with %v: want %v, got %v", tt.required, tt.held, tt.want, got)
			}
		})
	}
}

func TestPermissionSetImpliesAll(t *testing.T) {
	admin := NewPermissionSet(PermNamespaceAdmin)
	if !admin.ImpliesAll([]PermissionCode{PermNamespaceEdit, PermPackageCreate, PermPackageEdit}) {
		t.Fatal("admin should imply all non-owner codes")
	}
	if admin.ImpliesAll([]PermissionCode{PermNamespaceEdit, PermNamespaceOwner}) {
		t.Fatal("admin must not imply owner")
	}
	if !admin.ImpliesAll(nil) {
		t.Fatal("empty requirement is always satisfied")
	}
}

func TestPermissionCodeValid(t *testing.T) {
	for _, code := range PermissionCodes {
		if !code.Valid() {
			t.Errorf("catalog code %s should be valid", code)
		}
	}
	if PermissionCode("superuser").Valid() {
		t.Error("unknown code should not validate")
	}
}

func TestChecksumAlgorithmLength(t *testing.T) {
	want := map[ChecksumAlgorithm]int{
		ChecksumMD5:    16,
		ChecksumSHA1:   20,
		ChecksumSHA256: 32,
		ChecksumSHA512: 64,
	}
	for _, algo := range ChecksumAlgorithms {
		if got := algo.Length(); got != want[algo] {
			t.Errorf("%s length: want %d, got %d", algo, want[algo], got)
		}
		if !algo.Valid() {
			t.Errorf("%s should be valid", algo)
		}
	}
	if ChecksumAlgorithm("crc32").Valid() {
		t.Error("crc32 is not in the catalog")
	}
}
