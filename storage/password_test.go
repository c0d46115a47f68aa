package storage

import (
	"strings"
	"testing"
)

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$") {
		t.Errorf("unexpected encoding %q", hash)
	}
	other, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if other == hash {
		t.Error("two hashes of one password share a salt")
	}
	cheap, err := argon2Params{memory: 8 * 1024, time: 2, threads: 1}.hash("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(hash, "m=65536,t=1,p=4", "m=8192,t=2,p=1", 1)
	for _, tc := range []struct {
		password string
		encoded  string
		want     bool
	}{
		{"hunter2", hash, true},
		{"hunter2", cheap, true},
		{"hunter3", cheap, false},
		{"hunter3", hash, false},
		{"", hash, false},
		{"hunter2", strings.Replace(hash, "argon2id", "argon2i", 1), false},
		{"hunter2", strings.Replace(hash, "v=19", "v=16", 1), false},
		{"hunter2", strings.TrimSuffix(hash, hash[strings.LastIndex(hash, "$"):]), false},
		{"hunter2", hash + "$", false},
		{"hunter2", "not a hash", false},
		{"hunter2", "", false},
	} {
		if got := VerifyPassword(tc.password, tc.encoded); got != tc.want {
			t.Errorf("VerifyPassword(%q, %q) = %v, want %v", tc.password, tc.encoded, got, tc.want)
		}
	}
	if VerifyPassword("hunter2", tampered) {
		t.Error("digest verified under different cost settings")
	}
}
