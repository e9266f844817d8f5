package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lazzyont7t/Data/models"
)

// HistoryPage is the response shape shared by both providers: a page of
// recent issues, newest first.
type HistoryPage struct {
	Data struct {
		List []Issue `json:"list"`
	} `json:"data"`
}

// Issue is one drawn outcome.
type Issue struct {
	IssueNumber string `json:"issueNumber"`
	Number      Digit  `json:"number"`
}

// Digit decodes the outcome field, which some endpoints serve as a JSON
// string and some as a number.
type Digit int

func (d *Digit) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("outcome %q is not a number", s)
	}
	*d = Digit(v)
	return nil
}

// ParseWindow decodes a history page into a window: the issues' digits in
// provider order plus the next issue number (max issue + 1). The caller
// wraps any error into a FetchError.
func ParseWindow(body []byte) (*models.Window, error) {
	page, err := decode(body)
	if err != nil {
		return nil, err
	}

	digits := make([]int, 0, len(page.Data.List))
	var maxIssue int64
	for _, it := range page.Data.List {
		d := int(it.Number)
		if d < 0 || d > 9 {
			return nil, fmt.Errorf("outcome %d out of range", d)
		}
		digits = append(digits, d)

		n, err := strconv.ParseInt(it.IssueNumber, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("issue number %q is not numeric", it.IssueNumber)
		}
		if n > maxIssue {
			maxIssue = n
		}
	}

	return &models.Window{
		NextIssue: strconv.FormatInt(maxIssue+1, 10),
		Digits:    digits,
		Raw:       json.RawMessage(body),
	}, nil
}

// ParseLatest decodes a history page and returns the first (most recent)
// outcome.
func ParseLatest(body []byte) (int, error) {
	page, err := decode(body)
	if err != nil {
		return 0, err
	}

	d := int(page.Data.List[0].Number)
	if d < 0 || d > 9 {
		return 0, fmt.Errorf("outcome %d out of range", d)
	}
	return d, nil
}

func decode(body []byte) (*HistoryPage, error) {
	var page HistoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(page.Data.List) == 0 {
		return nil, fmt.Errorf("empty issue list")
	}
	return &page, nil
}
