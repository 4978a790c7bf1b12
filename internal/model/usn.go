package model

import (
	"errors"
	"regexp"
	"strings"
)

// USN format: college digit+code, two-digit year, two-letter branch code,
// three-digit serial, e.g. 1AP23CS001.
var usnPattern = regexp.MustCompile(`^[0-9][A-Z]{2}[0-9]{2}[A-Z]{2}[0-9]{3}$`)

var branchCodes = map[string]string{
	"CS": "CSE",
	"IS": "ISE",
	"EC": "ECE",
	"EE": "EEE",
	"ME": "ME",
	"CV": "CV",
	"AI": "AIML",
}

var ErrInvalidUSN = errors.New("invalid usn")

func NormalizeUSN(usn string) (string, error) {
	usn = strings.ToUpper(strings.TrimSpace(usn))
	if !usnPattern.MatchString(usn) {
		return "", ErrInvalidUSN
	}
	return usn, nil
}

func BranchFromUSN(usn string) (string, error) {
	usn, err := NormalizeUSN(usn)
	if err != nil {
		return "", err
	}
	branch, ok := branchCodes[usn[5:7]]
	if !ok {
		return "", ErrInvalidUSN
	}
	return branch, nil
}

func IsValidBranch(branch string) bool {
	for _, known := range branchCodes {
		if known == branch {
			return true
		}
	}
	return false
}

func IsValidSemester(semester int) bool {
	return semester >= 1 && semester <= 8
}

func IsValidCategory(category string) bool {
	switch PostCategory(category) {
	case CategoryEvent, CategoryNews, CategoryLink, CategoryNote, CategorySchedule:
		return true
	default:
		return false
	}
}
