package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultBIN is the issuer prefix of every generated card number
	DefaultBIN = "400000"
	// CardNumberLength is the length of a generated card number
	CardNumberLength = 16
)

// ErrCodecFailure marks a card number that could not be encrypted, decrypted
// or masked. Stored ciphertext that fails to decrypt means corrupted data.
var ErrCodecFailure = errors.New("card codec failure")

// CardCodec generates card numbers and encrypts them for storage.
// Encryption is deterministic for a fixed key: the IV is derived from the
// plaintext, so equal numbers produce equal ciphertexts.
type CardCodec struct {
	bin    string
	encKey []byte
	ivKey  []byte
	rnd    io.Reader
}

// NewCardCodec derives the cipher and IV keys from the master key.
// A nil rnd falls back to crypto/rand.
func NewCardCodec(key []byte, bin string, rnd io.Reader) (*CardCodec, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if bin == "" {
		bin = DefaultBIN
	}
	if len(bin) >= CardNumberLength-1 || !isDigits(bin) {
		return nil, fmt.Errorf("invalid card BIN %q", bin)
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	kdf := hkdf.New(sha256.New, key, nil, []byte("bank-cards/card-number"))
	encKey := make([]byte, len(key))
	ivKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("failed to derive cipher key: %w", err)
	}
	if _, err := io.ReadFull(kdf, ivKey); err != nil {
		return nil, fmt.Errorf("failed to derive IV key: %w", err)
	}

	return &CardCodec{bin: bin, encKey: encKey, ivKey: ivKey, rnd: rnd}, nil
}

// Generate returns a new Luhn-valid card number: BIN, random digits, check digit
func (c *CardCodec) Generate() (string, error) {
	var builder strings.Builder
	builder.WriteString(c.bin)

	ten := big.NewInt(10)
	for builder.Len() < CardNumberLength-1 {
		d, err := rand.Int(c.rnd, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate random digits: %w", err)
		}
		builder.WriteByte(byte('0' + d.Int64()))
	}

	payload := builder.String()
	check, err := LuhnCheckDigit(payload)
	if err != nil {
		return "", err
	}
	return payload + string(rune('0'+check)), nil
}

// LuhnCheckDigit computes the check digit for a payload without one.
// Digits at even indexes from the left are doubled, which for a 15 digit
// payload matches the usual right-to-left rule.
func LuhnCheckDigit(payload string) (int, error) {
	if payload == "" || !isDigits(payload) {
		return 0, fmt.Errorf("invalid card number payload %q", payload)
	}
	sum := 0
	for i := 0; i < len(payload); i++ {
		digit := int(payload[i] - '0')
		if i%2 == 0 {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
	}
	return (10 - sum%10) % 10, nil
}

// ValidLuhn reports whether a full card number carries a valid check digit
func ValidLuhn(number string) bool {
	if len(number) < 2 || !isDigits(number) {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}

// Encrypt encrypts a card number with AES-CBC and PKCS#7 padding.
// The result is hex(IV || ciphertext).
func (c *CardCodec) Encrypt(data string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: input data is empty", ErrCodecFailure)
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create cipher: %v", ErrCodecFailure, err)
	}

	iv := c.syntheticIV([]byte(data))

	dataBytes := []byte(data)
	padding := aes.BlockSize - len(dataBytes)%aes.BlockSize
	for i := 0; i < padding; i++ {
		dataBytes = append(dataBytes, byte(padding))
	}

	ciphertext := make([]byte, len(dataBytes))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, dataBytes)

	final := append(iv, ciphertext...)
	return hex.EncodeToString(final), nil
}

// Decrypt reverses Encrypt. Any malformed input, including ciphertext made
// under another key, yields ErrCodecFailure.
func (c *CardCodec) Decrypt(encryptedData string) (string, error) {
	if len(encryptedData) == 0 {
		return "", fmt.Errorf("%w: encrypted data is empty", ErrCodecFailure)
	}

	data, err := hex.DecodeString(encryptedData)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode hex: %v", ErrCodecFailure, err)
	}
	if len(data) < 2*aes.BlockSize {
		return "", fmt.Errorf("%w: encrypted data too short: %d bytes", ErrCodecFailure, len(data))
	}

	iv := data[:aes.BlockSize]
	ciphertext := data[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: invalid ciphertext length: %d bytes", ErrCodecFailure, len(ciphertext))
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create cipher: %v", ErrCodecFailure, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding > aes.BlockSize || padding == 0 {
		return "", fmt.Errorf("%w: invalid padding value: %d", ErrCodecFailure, padding)
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if int(plaintext[i]) != padding {
			return "", fmt.Errorf("%w: invalid padding bytes at position %d", ErrCodecFailure, i)
		}
	}
	plaintext = plaintext[:len(plaintext)-padding]

	if !hmac.Equal(iv, c.syntheticIV(plaintext)) {
		return "", fmt.Errorf("%w: ciphertext does not authenticate", ErrCodecFailure)
	}

	return string(plaintext), nil
}

// MaskCardNumber hides all but the last four digits
func MaskCardNumber(number string) (string, error) {
	if len(number) < 4 {
		return "", fmt.Errorf("%w: card number too short to mask", ErrCodecFailure)
	}
	return "**** **** **** " + number[len(number)-4:], nil
}

func (c *CardCodec) syntheticIV(plaintext []byte) []byte {
	h := hmac.New(sha256.New, c.ivKey)
	h.Write(plaintext)
	return h.Sum(nil)[:aes.BlockSize]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
