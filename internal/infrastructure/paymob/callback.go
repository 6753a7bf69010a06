package paymob

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
)

// hmacFields is Paymob's concatenation order for transaction callbacks.
var hmacFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

type envelope struct {
	Type string          `json:"type"`
	Obj  json.RawMessage `json:"obj"`
}

type transaction struct {
	ID          json.Number `json:"id"`
	Success     bool        `json:"success"`
	Pending     bool        `json:"pending"`
	AmountCents int64       `json:"amount_cents"`
	Currency    string      `json:"currency"`
	CreatedAt   string      `json:"created_at"`
	Order       struct {
		ID json.Number `json:"id"`
	} `json:"order"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (g *Gateway) ParseCallback(body []byte, signature string) (apppayment.Callback, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apppayment.Callback{}, fmt.Errorf("paymob: decode callback: %w", err)
	}
	if len(env.Obj) == 0 {
		return apppayment.Callback{}, errors.New("paymob: callback has no obj")
	}

	if g.cfg.HMACSecret != "" {
		expected, err := Sign(env.Obj, g.cfg.HMACSecret)
		if err != nil {
			return apppayment.Callback{}, err
		}
		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
			return apppayment.Callback{}, apppayment.ErrInvalidSignature
		}
	}

	var tx transaction
	if err := json.Unmarshal(env.Obj, &tx); err != nil {
		return apppayment.Callback{}, fmt.Errorf("paymob: decode transaction: %w", err)
	}
	if tx.Order.ID == "" {
		return apppayment.Callback{}, errors.New("paymob: callback has no order id")
	}
	return apppayment.Callback{
		GatewayOrderID: tx.Order.ID.String(),
		TransactionID:  tx.ID.String(),
		Success:        tx.Success,
		Pending:        tx.Pending,
		AmountCents:    tx.AmountCents,
		Currency:       tx.Currency,
		Message:        tx.Data.Message,
		CreatedAt:      tx.CreatedAt,
	}, nil
}

// Sign computes the lowercase hex HMAC-SHA512 Paymob sends for a transaction object.
func Sign(obj []byte, secret string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("paymob: decode transaction: %w", err)
	}

	var b strings.Builder
	for _, path := range hmacFields {
		b.WriteString(stringify(lookup(fields, path)))
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}
