package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	patientCodeRe = regexp.MustCompile(`^P\d{3}$`)
	sessionCodeRe = regexp.MustCompile(`^(P\d{3})S(\d{3})$`)
)

// PatientCodeFromPath extracts the patient code from an object path of the
// form "P012/recording.c3d". Paths without a recognizable code return empty
// and the session proceeds without a patient reference.
func PatientCodeFromPath(objectPath string) string {
	segs := strings.Split(strings.Trim(objectPath, "/"), "/")
	for _, seg := range segs {
		if patientCodeRe.MatchString(seg) {
			return seg
		}
	}
	return ""
}

// FormatCode builds a session code from a patient code and session ordinal,
// e.g. ("P012", 3) -> "P012S003".
func FormatCode(patientCode string, ordinal int) (string, error) {
	if !patientCodeRe.MatchString(patientCode) {
		return "", fmt.Errorf("invalid patient code %q", patientCode)
	}
	if ordinal < 1 || ordinal > 999 {
		return "", fmt.Errorf("session ordinal %d out of range", ordinal)
	}
	return fmt.Sprintf("%sS%03d", patientCode, ordinal), nil
}

// ParseCode splits a session code into patient code and ordinal.
func ParseCode(code string) (patientCode string, ordinal int, err error) {
	m := sessionCodeRe.FindStringSubmatch(code)
	if m == nil {
		return "", 0, fmt.Errorf("invalid session code %q", code)
	}
	ordinal, _ = strconv.Atoi(m[2])
	return m[1], ordinal, nil
}
