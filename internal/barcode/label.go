package barcode

import (
	"strings"

	"bizzai/backend/internal/poserr"
)

type Format string

const (
	FormatCode128 Format = "CODE128"
	FormatCode39  Format = "CODE39"
	FormatEAN13   Format = "EAN13"
	FormatUPC     Format = "UPC"
)

const MaxCopies = 500

const code39Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-. $/+%"

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToUpper(strings.TrimSpace(raw))); f {
	case FormatCode128, FormatCode39, FormatEAN13, FormatUPC:
		return f, nil
	default:
		return "", poserr.Invalid("unsupported barcode format %q", raw)
	}
}

// LabelConfig describes a print run for one item.
type LabelConfig struct {
	Format Format
	Copies int
}

func (c LabelConfig) Validate() error {
	if _, err := ParseFormat(string(c.Format)); err != nil {
		return err
	}
	if c.Copies < 1 || c.Copies > MaxCopies {
		return poserr.Invalid("copies must be between 1 and %d", MaxCopies)
	}
	return nil
}

// ValidateCode checks that code can be encoded in format.
func ValidateCode(format Format, code string) error {
	if code == "" {
		return poserr.Invalid("barcode value is empty")
	}
	switch format {
	case FormatCode128:
		for _, r := range code {
			if r < 32 || r > 126 {
				return poserr.Invalid("CODE128 accepts printable ASCII only")
			}
		}
		return nil
	case FormatCode39:
		for _, r := range code {
			if !strings.ContainsRune(code39Charset, r) {
				return poserr.Invalid("CODE39 cannot encode %q", r)
			}
		}
		return nil
	case FormatEAN13:
		return validateCheckDigit(code, 13, "EAN13")
	case FormatUPC:
		return validateCheckDigit(code, 12, "UPC")
	default:
		return poserr.Invalid("unsupported barcode format %q", format)
	}
}

func validateCheckDigit(code string, length int, name string) error {
	if len(code) != length || !allDigits(code) {
		return poserr.Invalid("%s requires exactly %d digits", name, length)
	}
	if CheckDigit(code[:length-1]) != code[length-1]-'0' {
		return poserr.Invalid("%s check digit mismatch", name)
	}
	return nil
}

// CheckDigit computes the GS1 mod-10 check digit for the digits that
// precede it. The rightmost payload digit carries weight 3.
func CheckDigit(payload string) byte {
	sum := 0
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if (len(payload)-1-i)%2 == 0 {
			d *= 3
		}
		sum += d
	}
	return byte((10 - sum%10) % 10)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
