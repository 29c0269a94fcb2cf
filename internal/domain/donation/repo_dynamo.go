package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/platform/db"
)

// DynamoAPI is the subset of the DynamoDB client the store needs.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is the table row. pk is "<tenant>#<id>" so tenants share one
// table without seeing each other's donations.
type dynamoItem struct {
	PK             string `dynamodbav:"pk"`
	Tenant         string `dynamodbav:"tenant"`
	OrganizationID string `dynamodbav:"organization_id"`
	AppointmentID  string `dynamodbav:"appointment_id,omitempty"`
	Stage          string `dynamodbav:"stage"`
	Status         string `dynamodbav:"status"`
	Document       string `dynamodbav:"document"`
	VersionID      int    `dynamodbav:"version_id"`
	CreatedAt      string `dynamodbav:"created_at"`
}

type repoDynamo struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewRepoDynamo returns a Repository backed by a DynamoDB table whose
// partition key is the string attribute "pk".
func NewRepoDynamo(client DynamoAPI, table string) Repository {
	return &repoDynamo{client: client, table: table, now: func() time.Time { return time.Now().UTC() }}
}

func partitionKey(ctx context.Context, id uuid.UUID) string {
	return tenantOf(ctx) + "#" + id.String()
}

func tenantOf(ctx context.Context) string {
	if t := db.TenantFromContext(ctx); t != "" {
		return t
	}
	return "default"
}

func (r *repoDynamo) toItem(ctx context.Context, d *Donation) (map[string]dynamodbtypes.AttributeValue, error) {
	doc, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode donation: %w", err)
	}
	it := dynamoItem{
		PK:             partitionKey(ctx, d.ID),
		Tenant:         tenantOf(ctx),
		OrganizationID: d.OrganizationID.String(),
		Stage:          string(d.Stage),
		Status:         string(d.Status),
		Document:       string(doc),
		VersionID:      d.VersionID,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339Nano),
	}
	if d.AppointmentID != nil {
		it.AppointmentID = d.AppointmentID.String()
	}
	return attributevalue.MarshalMap(it)
}

func fromItem(item map[string]dynamodbtypes.AttributeValue) (*Donation, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal donation item: %w", err)
	}
	var d Donation
	if err := json.Unmarshal([]byte(it.Document), &d); err != nil {
		return nil, fmt.Errorf("decode donation %s: %w", it.PK, err)
	}
	d.VersionID = it.VersionID
	return &d, nil
}

func (r *repoDynamo) Create(ctx context.Context, d *Donation) error {
	item, err := r.toItem(ctx, d)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return fmt.Errorf("put donation: %w", err)
	}
	return nil
}

func (r *repoDynamo) GetByID(ctx context.Context, id uuid.UUID) (*Donation, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			"pk": &dynamodbtypes.AttributeValueMemberS{Value: partitionKey(ctx, id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get donation: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return fromItem(out.Item)
}

// Save replaces the item if its version_id still matches.
func (r *repoDynamo) Save(ctx context.Context, d *Donation) error {
	prev := d.VersionID
	next := d.Clone()
	next.VersionID = prev + 1
	next.UpdatedAt = r.now()

	item, err := r.toItem(ctx, next)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(pk) AND version_id = :v"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":v": &dynamodbtypes.AttributeValueMemberN{Value: strconv.Itoa(prev)},
		},
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return fmt.Errorf("put donation: %w", err)
		}
		if _, gerr := r.GetByID(ctx, d.ID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	d.VersionID = next.VersionID
	d.UpdatedAt = next.UpdatedAt
	return nil
}

// List scans the tenant's items. Filtering happens server side; ordering
// and paging happen here since a scan has no sort order.
func (r *repoDynamo) List(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	expr := "tenant = :tenant"
	values := map[string]dynamodbtypes.AttributeValue{
		":tenant": &dynamodbtypes.AttributeValueMemberS{Value: tenantOf(ctx)},
	}
	names := map[string]string{}
	if f.OrganizationID != nil {
		expr += " AND organization_id = :org"
		values[":org"] = &dynamodbtypes.AttributeValueMemberS{Value: f.OrganizationID.String()}
	}
	if f.AppointmentID != nil {
		expr += " AND appointment_id = :appt"
		values[":appt"] = &dynamodbtypes.AttributeValueMemberS{Value: f.AppointmentID.String()}
	}
	if f.Stage != "" {
		expr += " AND stage = :stage"
		values[":stage"] = &dynamodbtypes.AttributeValueMemberS{Value: string(f.Stage)}
	}
	if f.Status != "" {
		// status is a DynamoDB reserved word
		expr += " AND #st = :status"
		names["#st"] = "status"
		values[":status"] = &dynamodbtypes.AttributeValueMemberS{Value: string(f.Status)}
	}

	var all []*Donation
	var lastKey map[string]dynamodbtypes.AttributeValue
	for {
		in := &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          aws.String(expr),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         lastKey,
		}
		if len(names) > 0 {
			in.ExpressionAttributeNames = names
		}
		out, err := r.client.Scan(ctx, in)
		if err != nil {
			return nil, 0, fmt.Errorf("scan donations: %w", err)
		}
		for _, item := range out.Items {
			d, err := fromItem(item)
			if err != nil {
				return nil, 0, err
			}
			all = append(all, d)
		}
		lastKey = out.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
