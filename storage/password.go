package storage

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/zond/usurper"
	"golang.org/x/crypto/argon2"
)

// argon2Params are the cost settings encoded into every stored hash.
type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
}

var defaultParams = argon2Params{
	memory:  64 * 1024,
	time:    1,
	threads: 4,
}

const (
	saltLen = 16
	keyLen  = 32
)

func (p argon2Params) key(password string, salt []byte, n uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, n)
}

// HashPassword returns an argon2id PHC string for the players table.
func HashPassword(password string) (string, error) {
	return defaultParams.hash(password)
}

func (p argon2Params) hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", usurper.WithStack(err)
	}
	return strings.Join([]string{
		"",
		"argon2id",
		fmt.Sprintf("v=%d", argon2.Version),
		fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.threads),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(p.key(password, salt, keyLen)),
	}, "$"), nil
}

// VerifyPassword reports whether password produced encoded. Hashes made with
// other cost settings still verify; other algorithms and versions never do.
func VerifyPassword(password, encoded string) bool {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	p := argon2Params{}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(want) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(p.key(password, salt, uint32(len(want))), want) == 1
}
