package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/noah-isme/school-auth-api/pkg/config"
)

const (
	algorithmID = "argon2id"

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
)

// ErrMalformedHash marks stored hashes that cannot be parsed as PHC strings.
var ErrMalformedHash = errors.New("malformed password hash")

// Hasher hashes and verifies passwords with argon2id. The encoded form embeds
// algorithm and parameters, so stored hashes stay verifiable after parameter
// changes. Concurrent hashing is capped by a semaphore: argon2 is memory-hard
// by design and unbounded parallel hashing would starve request workers.
type Hasher struct {
	cfg config.PasswordConfig
	sem chan struct{}

	// dummyHash is compared against when a login does not exist, so lookup
	// misses and wrong passwords take the same amount of work.
	dummyHash string
}

// NewHasher validates parameters and precomputes the dummy hash.
func NewHasher(cfg config.PasswordConfig) (*Hasher, error) {
	if cfg.MemoryKB < minMemoryKB {
		return nil, fmt.Errorf("argon2 memory must be >= %d KB", minMemoryKB)
	}
	if cfg.Time < 1 {
		return nil, fmt.Errorf("argon2 time cost must be >= 1")
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("argon2 parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	}
	if cfg.KeyLength < minKeyLength {
		return nil, fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	h := &Hasher{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrency)}

	dummy, err := h.encode("not-a-real-password")
	if err != nil {
		return nil, err
	}
	h.dummyHash = dummy

	return h, nil
}

// Hash derives an encoded argon2id hash for the password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	return h.encode(password)
}

// Verify reports whether password matches the encoded hash.
func (h *Hasher) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.release()

	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// CompareDummy burns the same hashing work as a real verification. Called on
// login lookup misses so response latency does not reveal whether a login
// exists. The result is always a mismatch.
func (h *Hasher) CompareDummy(ctx context.Context, password string) {
	_, _ = h.Verify(ctx, password, h.dummyHash)
}

func (h *Hasher) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hasher) release() {
	<-h.sem
}

func (h *Hasher) encode(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.MemoryKB, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.MemoryKB,
		h.cfg.Time,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	parsed := &parsedPHC{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrMalformedHash
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, ErrMalformedHash
			}
			parsed.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, ErrMalformedHash
			}
			parsed.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil {
				return nil, ErrMalformedHash
			}
			parsed.parallelism = uint8(v)
		default:
			return nil, ErrMalformedHash
		}
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	parsed.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(parsed.salt) < int(minSaltLength) {
		return nil, ErrMalformedHash
	}

	parsed.hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(parsed.hash) == 0 {
		return nil, ErrMalformedHash
	}
	parsed.keyLength = uint32(len(parsed.hash))

	return parsed, nil
}
