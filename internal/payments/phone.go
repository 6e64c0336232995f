package payments

import (
	"regexp"
	"strings"
)

var msisdnPattern = regexp.MustCompile(`^254[17][0-9]{8}$`)

// NormalizePhone converts the common local spellings of a Safaricom/Airtel number
// (07XXXXXXXX, 01XXXXXXXX, 7XXXXXXXX, +2547XXXXXXXX) to the 2547XXXXXXXX form the gateway expects.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if phone == "" {
		return "", ErrPhoneRequired
	}
	phone = strings.TrimPrefix(phone, "+")

	switch {
	case len(phone) == 10 && phone[0] == '0':
		phone = "254" + phone[1:]
	case len(phone) == 9 && (phone[0] == '7' || phone[0] == '1'):
		phone = "254" + phone
	}
	if !msisdnPattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
