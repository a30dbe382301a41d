package journal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	secretKey  = "secret"
	secretSize = 32

	commitDomain = "vkbd-journal-value-commitment-v1"
	macDomain    = "vkbd-journal-entry-mac-v1"
)

type keys struct {
	commitKey []byte
	macKey    []byte
}

// loadSecret returns the journal secret, creating it on first use.
func loadSecret(db *sql.DB) ([]byte, error) {
	var secret []byte
	err := db.QueryRow(`SELECT value FROM journal_meta WHERE key = ?`, secretKey).Scan(&secret)
	if err == nil {
		if len(secret) != secretSize {
			return nil, fmt.Errorf("journal secret has %d bytes, want %d", len(secret), secretSize)
		}
		return secret, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read journal secret: %w", err)
	}

	secret = make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate journal secret: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO journal_meta (key, value) VALUES (?, ?)`, secretKey, secret); err != nil {
		return nil, fmt.Errorf("store journal secret: %w", err)
	}
	return secret, nil
}

func deriveKeys(secret []byte) (keys, error) {
	var k keys
	for _, d := range []struct {
		domain string
		out    *[]byte
	}{
		{commitDomain, &k.commitKey},
		{macDomain, &k.macKey},
	} {
		buf := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(d.domain)), buf); err != nil {
			return keys{}, fmt.Errorf("derive %s key: %w", d.domain, err)
		}
		*d.out = buf
	}
	return k, nil
}

func (k keys) commit(value string) []byte {
	m := hmac.New(sha256.New, k.commitKey)
	m.Write([]byte(value))
	return m.Sum(nil)
}

func (k keys) entryMAC(e *Entry) []byte {
	m := hmac.New(sha256.New, k.macKey)

	writeString := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		m.Write(n[:])
		m.Write([]byte(s))
	}
	writeInt := func(v int64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		m.Write(b[:])
	}
	writeBool := func(v bool) {
		if v {
			writeInt(1)
		} else {
			writeInt(0)
		}
	}

	writeString(e.ID)
	writeInt(e.ShownAt.UnixNano())
	writeInt(e.SubmittedAt.UnixNano())
	writeString(e.ReturnKeyLabel)
	writeString(e.AccentColor)
	writeBool(e.SoundEnabled)
	writeBool(e.Prefilled)
	writeInt(int64(e.ValueLength))
	writeString(string(e.Commitment))
	writeInt(int64(e.Keystrokes))
	writeInt(int64(e.Backspaces))
	writeInt(int64(e.Dictations))
	return m.Sum(nil)
}
