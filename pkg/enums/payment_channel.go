package enums

import (
	"fmt"
	"strings"
)

// PaymentChannel is the gateway channel code a customer pays through.
type PaymentChannel string

const (
	PaymentChannelBCA        PaymentChannel = "BCA"
	PaymentChannelBNI        PaymentChannel = "BNI"
	PaymentChannelBRI        PaymentChannel = "BRI"
	PaymentChannelMandiri    PaymentChannel = "MANDIRI"
	PaymentChannelPermata    PaymentChannel = "PERMATA"
	PaymentChannelCreditCard PaymentChannel = "CREDIT_CARD"
)

var validPaymentChannels = []PaymentChannel{
	PaymentChannelBCA,
	PaymentChannelBNI,
	PaymentChannelBRI,
	PaymentChannelMandiri,
	PaymentChannelPermata,
	PaymentChannelCreditCard,
}

func (c PaymentChannel) String() string {
	return string(c)
}

func (c PaymentChannel) IsValid() bool {
	for _, candidate := range validPaymentChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsCard reports whether the channel is charged with the card fee schedule.
func (c PaymentChannel) IsCard() bool {
	return c == PaymentChannelCreditCard
}

// ParsePaymentChannel accepts case-insensitive channel codes.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validPaymentChannels {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment channel %q", value)
}
