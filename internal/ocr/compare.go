package ocr

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"

	"go-receipt-forensics/internal/scoring"
)

const (
	// MerchantMatchThreshold is the minimum normalized similarity between
	// the claimed merchant and some line of the receipt.
	MerchantMatchThreshold = 0.8
	// MaxAgreementWER is the largest word error rate at which the caller's
	// transcript and the local one are said to agree.
	MaxAgreementWER = 0.3
)

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Claims is what the caller asserts about a receipt.
type Claims struct {
	MerchantName  string
	ClaimedAmount string
	// ReferenceText is a transcript produced upstream, if any.
	ReferenceText string
}

// Stats holds the numbers behind the checks.
type Stats struct {
	HasMerchant        bool
	MerchantSimilarity float64
	HasWER             bool
	WER                float64
}

// CompareClaims checks claims against OCR text. Only claims that were made
// produce checks.
func CompareClaims(claims Claims, text string) ([]scoring.ContextCheck, Stats) {
	var (
		checks []scoring.ContextCheck
		stats  Stats
	)
	if strings.TrimSpace(text) == "" {
		return []scoring.ContextCheck{{
			Name:   "ocr_text_found",
			Passed: false,
			Detail: "No readable text was extracted from the receipt",
		}}, stats
	}

	if m := normalizeText(claims.MerchantName); m != "" {
		sim, line := bestLineSimilarity(m, text)
		stats.HasMerchant, stats.MerchantSimilarity = true, sim
		check := scoring.ContextCheck{Name: "merchant_match", Passed: sim >= MerchantMatchThreshold}
		if check.Passed {
			check.Detail = fmt.Sprintf("Merchant %q matches receipt text %q (similarity %.2f)", claims.MerchantName, line, sim)
		} else {
			check.Detail = fmt.Sprintf("Merchant %q not found on the receipt (best similarity %.2f)", claims.MerchantName, sim)
		}
		checks = append(checks, check)
	}

	if claimed, ok := parseAmount(claims.ClaimedAmount); ok {
		found := false
		for _, tok := range amountPattern.FindAllString(text, -1) {
			if v, ok := parseAmount(tok); ok && math.Abs(v-claimed) < 0.005 {
				found = true
				break
			}
		}
		check := scoring.ContextCheck{Name: "amount_present", Passed: found}
		if found {
			check.Detail = fmt.Sprintf("Claimed amount %s appears on the receipt", claims.ClaimedAmount)
		} else {
			check.Detail = fmt.Sprintf("Claimed amount %s does not appear on the receipt", claims.ClaimedAmount)
		}
		checks = append(checks, check)
	}

	if ref := strings.Fields(normalizeText(claims.ReferenceText)); len(ref) > 0 {
		hyp := strings.Fields(normalizeText(text))
		rate, _ := wer.WER(ref, hyp)
		stats.HasWER, stats.WER = true, rate
		checks = append(checks, scoring.ContextCheck{
			Name:   "transcript_agreement",
			Passed: rate <= MaxAgreementWER,
			Detail: fmt.Sprintf("Supplied transcript differs from the receipt text at a word error rate of %.2f", rate),
		})
	}
	return checks, stats
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.Distance(a, b))/float64(longest)
}

func bestLineSimilarity(merchant, text string) (float64, string) {
	best, bestLine := 0.0, ""
	for _, line := range strings.Split(text, "\n") {
		norm := normalizeText(line)
		if norm == "" {
			continue
		}
		if s := Similarity(merchant, norm); s > best {
			best, bestLine = s, strings.TrimSpace(line)
		}
		// merchant names often share a line with an address or store number
		if strings.Contains(norm, merchant) {
			return 1, strings.TrimSpace(line)
		}
	}
	return best, bestLine
}

func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// parseAmount reads "1,500.00", "$1500" or "1500" as 1500.
func parseAmount(s string) (float64, bool) {
	m := amountPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
