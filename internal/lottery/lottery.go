// Package lottery derives a raffle's winning number from an official lottery
// result.
package lottery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"raffle-pix-app/internal/apperr"
)

// SelectWinner maps a lottery result to a number in [1, totalNumbers].
//
// The trailing window of digits is 2 wide for raffles up to 100 numbers, 3 up
// to 1000 and 4 above that. A window value above totalNumbers wraps with a
// modulo, and a zero (either the window itself or the modulo) becomes
// totalNumbers.
func SelectWinner(lotteryResult string, totalNumbers int) (int, error) {
	w, err := selectWindow(lotteryResult, totalNumbers)
	if err != nil {
		return 0, err
	}
	return w.winner, nil
}

// Explain describes the digit window used to pick the winner.
func Explain(lotteryResult string, totalNumbers int) (string, error) {
	w, err := selectWindow(lotteryResult, totalNumbers)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Last %d digits of %s: %0*d. Winning number: %d",
		w.width, w.digits, w.width, w.value, w.winner), nil
}

type window struct {
	digits string
	width  int
	value  int
	winner int
}

func selectWindow(lotteryResult string, totalNumbers int) (window, error) {
	if totalNumbers < 1 {
		return window{}, apperr.InvalidInput("total numbers must be positive, got %d", totalNumbers)
	}
	digits := Clean(lotteryResult)
	if digits == "" {
		return window{}, apperr.ErrInvalidLotteryNumber
	}

	width := windowWidth(totalNumbers)
	tail := digits
	if len(tail) > width {
		tail = tail[len(tail)-width:]
	}
	value, err := strconv.Atoi(tail)
	if err != nil {
		return window{}, apperr.ErrInvalidLotteryNumber
	}

	return window{
		digits: digits,
		width:  width,
		value:  value,
		winner: normalize(value, totalNumbers),
	}, nil
}

func windowWidth(totalNumbers int) int {
	switch {
	case totalNumbers <= 100:
		return 2
	case totalNumbers <= 1000:
		return 3
	default:
		return 4
	}
}

func normalize(value, totalNumbers int) int {
	if value > totalNumbers {
		value %= totalNumbers
	}
	if value == 0 {
		return totalNumbers
	}
	return value
}

// Clean strips every non-digit from a lottery result.
func Clean(lotteryResult string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, lotteryResult)
}

// Validate reports whether the result looks like a federal lottery prize
// number (4 to 6 digits).
func Validate(lotteryResult string) bool {
	n := len(Clean(lotteryResult))
	return n >= 4 && n <= 6
}

// Format groups 5 and 6 digit results for display (12.345, 123.456).
func Format(lotteryResult string) string {
	digits := Clean(lotteryResult)
	switch len(digits) {
	case 5:
		return digits[:2] + "." + digits[2:]
	case 6:
		return digits[:3] + "." + digits[3:]
	}
	return digits
}

// NextDrawDate returns the nearest upcoming Wednesday or Saturday after now,
// at midnight in now's location. Today never counts.
func NextDrawDate(now time.Time) time.Time {
	days := func(target time.Weekday) int {
		d := (int(target) - int(now.Weekday()) + 7) % 7
		if d == 0 {
			d = 7
		}
		return d
	}
	ahead := min(days(time.Wednesday), days(time.Saturday))
	y, m, d := now.AddDate(0, 0, ahead).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
