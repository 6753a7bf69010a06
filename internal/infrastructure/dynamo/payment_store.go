package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	insertConditionExpr   = "attribute_not_exists(payment_id)"
	finalizeExpr          = "SET #s = :new, gateway_transaction_id = :tx, updated_at = :ua"
	finalizeConditionExpr = "#s = :pending"
	notifiedExpr          = "SET notified = :t"
	existsConditionExpr   = "attribute_exists(payment_id)"
	gatewayKeyExpr        = "gateway_key = :gk"
	orderKeyExpr          = "order_id = :o"
	pendingFilterExpr     = "#s = :pending"
	unnotifiedFilterExpr  = "notified = :f AND #s <> :pending"
)

type paymentItem struct {
	PaymentID            string `dynamodbav:"payment_id"`
	OrderID              string `dynamodbav:"order_id"`
	OwnerID              string `dynamodbav:"owner_id"`
	Gateway              string `dynamodbav:"gateway"`
	GatewayOrderID       string `dynamodbav:"gateway_order_id"`
	GatewayKey           string `dynamodbav:"gateway_key"`
	GatewayTransactionID string `dynamodbav:"gateway_transaction_id,omitempty"`
	AmountCents          int64  `dynamodbav:"amount_cents"`
	Currency             string `dynamodbav:"currency"`
	Status               string `dynamodbav:"status"`
	RedirectToken        string `dynamodbav:"redirect_token,omitempty"`
	RedirectURL          string `dynamodbav:"redirect_url,omitempty"`
	Notified             bool   `dynamodbav:"notified"`
	CreatedAt            string `dynamodbav:"created_at"`
	UpdatedAt            string `dynamodbav:"updated_at"`
}

func gatewayKey(gateway, gatewayOrderID string) string { return gateway + "|" + gatewayOrderID }

func toPaymentItem(p *domain.Payment) paymentItem {
	return paymentItem{
		PaymentID:            p.ID,
		OrderID:              p.OrderID,
		OwnerID:              p.OwnerID,
		Gateway:              p.Gateway,
		GatewayOrderID:       p.GatewayOrderID,
		GatewayKey:           gatewayKey(p.Gateway, p.GatewayOrderID),
		GatewayTransactionID: p.GatewayTransactionID,
		AmountCents:          p.AmountCents,
		Currency:             p.Currency,
		Status:               string(p.Status),
		RedirectToken:        p.Redirect.PaymentToken,
		RedirectURL:          p.Redirect.IframeURL,
		Notified:             p.Notified,
		CreatedAt:            p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:            p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it paymentItem) toDomain() *domain.Payment {
	created, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	return &domain.Payment{
		ID:                   it.PaymentID,
		OrderID:              it.OrderID,
		OwnerID:              it.OwnerID,
		Gateway:              it.Gateway,
		GatewayOrderID:       it.GatewayOrderID,
		GatewayTransactionID: it.GatewayTransactionID,
		AmountCents:          it.AmountCents,
		Currency:             it.Currency,
		Status:               domain.Status(it.Status),
		Redirect:             domain.Redirect{PaymentToken: it.RedirectToken, IframeURL: it.RedirectURL},
		Notified:             it.Notified,
		CreatedAt:            created,
		UpdatedAt:            updated,
	}
}

func decodePayment(item map[string]types.AttributeValue) (*domain.Payment, error) {
	var it paymentItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal payment: %w", err)
	}
	return it.toDomain(), nil
}

// PaymentStore keeps one item per payment plus a GSI on gateway_key for callback lookups and
// one on order_id for repeated initiates.
type PaymentStore struct {
	client       API
	table        string
	gatewayIndex string
	orderIndex   string
	nowFunc      func() time.Time
}

func NewPaymentStore(client API, table, gatewayIndex, orderIndex string) *PaymentStore {
	return &PaymentStore{client: client, table: table, gatewayIndex: gatewayIndex, orderIndex: orderIndex, nowFunc: time.Now}
}

func paymentKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"payment_id": &types.AttributeValueMemberS{Value: id}}
}

func (s *PaymentStore) Insert(ctx context.Context, p *domain.Payment) error {
	// The GSI cannot enforce uniqueness; gateway order ids are unique per gateway in practice.
	if _, err := s.FindByGatewayOrderID(ctx, p.Gateway, p.GatewayOrderID); err == nil {
		return fmt.Errorf("%w: gateway order %s already recorded", domain.ErrConflict, p.GatewayOrderID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	item, err := attributevalue.MarshalMap(toPaymentItem(p))
	if err != nil {
		return fmt.Errorf("dynamo: marshal payment: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(insertConditionExpr),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrConflict
		}
		return wrap("put payment", err)
	}
	return nil
}

func (s *PaymentStore) Get(ctx context.Context, id string) (*domain.Payment, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            paymentKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrap("get payment", err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodePayment(out.Item)
}

func (s *PaymentStore) FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*domain.Payment, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.gatewayIndex),
		KeyConditionExpression: aws.String(gatewayKeyExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gk": &types.AttributeValueMemberS{Value: gatewayKey(gateway, gatewayOrderID)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, wrap("query gateway index", err)
	}
	if len(out.Items) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodePayment(out.Items[0])
}

func (s *PaymentStore) FindPendingByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(s.orderIndex),
		KeyConditionExpression:   aws.String(orderKeyExpr),
		FilterExpression:         aws.String(pendingFilterExpr),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o":       &types.AttributeValueMemberS{Value: orderID},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
	})
	if err != nil {
		return nil, wrap("query order index", err)
	}
	var newest *domain.Payment
	for _, item := range out.Items {
		p, err := decodePayment(item)
		if err != nil {
			return nil, err
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	return newest, nil
}

// Finalize is one conditional UpdateItem on status = pending; of two racing callbacks only one
// passes the condition.
func (s *PaymentStore) Finalize(ctx context.Context, f domain.Finalization) (*domain.Payment, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	at := f.At
	if at.IsZero() {
		at = s.nowFunc()
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      paymentKey(f.PaymentID),
		UpdateExpression:         aws.String(finalizeExpr),
		ConditionExpression:      aws.String(finalizeConditionExpr),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":     &types.AttributeValueMemberS{Value: string(f.Status)},
			":tx":      &types.AttributeValueMemberS{Value: f.TransactionID},
			":ua":      &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrAlreadyFinalized
		}
		return nil, wrap("finalize payment", err)
	}
	return decodePayment(out.Attributes)
}

func (s *PaymentStore) MarkNotified(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 paymentKey(id),
		UpdateExpression:    aws.String(notifiedExpr),
		ConditionExpression: aws.String(existsConditionExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrNotFound
		}
		return wrap("mark notified", err)
	}
	return nil
}

// ListUnnotified scans for finalized, unacknowledged payments. The sweep is periodic and the
// filtered set is small, so a scan is acceptable here.
func (s *PaymentStore) ListUnnotified(ctx context.Context, limit int) ([]*domain.Payment, error) {
	var (
		out   []*domain.Payment
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.table),
			FilterExpression:         aws.String(unnotifiedFilterExpr),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f":       &types.AttributeValueMemberBOOL{Value: false},
				":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, wrap("scan unnotified", err)
		}
		for _, item := range page.Items {
			p, err := decodePayment(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		if len(page.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= limit) {
			break
		}
		start = page.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
