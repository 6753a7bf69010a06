package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

const (
	decreaseExpr          = "SET stock_quantity = stock_quantity - :q, updated_at = :ua"
	decreaseConditionExpr = "attribute_exists(product_id) AND stock_quantity >= :q"
)

type productItem struct {
	ProductID         string   `dynamodbav:"product_id"`
	Name              string   `dynamodbav:"name"`
	Price             string   `dynamodbav:"price"`
	Images            []string `dynamodbav:"images,omitempty"`
	StockQuantity     int      `dynamodbav:"stock_quantity"`
	LowStockThreshold int      `dynamodbav:"low_stock_threshold"`
	UpdatedAt         string   `dynamodbav:"updated_at"`
}

func (it productItem) toDomain() (*domain.Product, error) {
	price, err := decimal.NewFromString(it.Price)
	if err != nil {
		return nil, fmt.Errorf("dynamo: product %s price %q: %w", it.ProductID, it.Price, err)
	}
	updated, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	p := &domain.Product{
		ID:                it.ProductID,
		Name:              it.Name,
		Price:             price,
		Images:            it.Images,
		StockQuantity:     it.StockQuantity,
		LowStockThreshold: it.LowStockThreshold,
		UpdatedAt:         updated,
	}
	p.RefreshLowStock()
	return p, nil
}

// ProductStore keeps stock in one item per product. The decrement is a single conditional
// UpdateItem, so DynamoDB serializes concurrent requests for the same product.
type ProductStore struct {
	client  API
	table   string
	nowFunc func() time.Time
}

func NewProductStore(client API, table string) *ProductStore {
	return &ProductStore{client: client, table: table, nowFunc: time.Now}
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: id}}
}

func (s *ProductStore) Get(ctx context.Context, productID string) (*domain.Product, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            productKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrap("get product", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
	}
	var it productItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal product: %w", err)
	}
	return it.toDomain()
}

func (s *ProductStore) DecreaseStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	if quantity <= 0 {
		return domain.StockLevel{}, domain.ErrInvalidQuantity
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 productKey(productID),
		UpdateExpression:    aws.String(decreaseExpr),
		ConditionExpression: aws.String(decreaseConditionExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(quantity)},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// ALL_OLD tells the two failures apart without a second read.
			if len(ccf.Item) == 0 {
				return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
			}
			var old productItem
			_ = attributevalue.UnmarshalMap(ccf.Item, &old)
			return domain.StockLevel{}, fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, productID, old.StockQuantity, quantity)
		}
		return domain.StockLevel{}, wrap("decrease stock", err)
	}

	var it productItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return domain.StockLevel{}, fmt.Errorf("dynamo: unmarshal product: %w", err)
	}
	p, err := it.toDomain()
	if err != nil {
		return domain.StockLevel{}, err
	}
	return p.Level(), nil
}

// Save writes a whole product; used for seeding.
func (s *ProductStore) Save(ctx context.Context, p *domain.Product) error {
	item, err := attributevalue.MarshalMap(productItem{
		ProductID:         p.ID,
		Name:              p.Name,
		Price:             p.Price.StringFixed(2),
		Images:            p.Images,
		StockQuantity:     p.StockQuantity,
		LowStockThreshold: p.LowStockThreshold,
		UpdatedAt:         s.nowFunc().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("dynamo: marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: item}); err != nil {
		return wrap("put product", err)
	}
	return nil
}
