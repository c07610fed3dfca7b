package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
)

// DynamoAPI is the subset of *dynamodb.Client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type DynamoConfig struct {
	RequestsTable string
	MatchesTable  string
	ProfilesTable string
	// StatusIndex is a GSI on the requests table: partition key status, sort key createdAt.
	StatusIndex string
	// StatusUpdatedIndex is a GSI on the requests table: partition key status, sort key updatedAt.
	StatusUpdatedIndex string
}

type Dynamo struct {
	client DynamoAPI
	cfg    DynamoConfig
	clock  clockwork.Clock
}

// NewDynamoClient loads the default AWS config for region.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewDynamo(client DynamoAPI, cfg DynamoConfig, clock clockwork.Clock) *Dynamo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dynamo{client: client, cfg: cfg, clock: clock}
}

func (d *Dynamo) Requests() SearchRequests { return dynamoRequests{d} }

func (d *Dynamo) Matches() Matches { return dynamoMatches{d} }

func (d *Dynamo) Profiles() Profiles { return dynamoProfiles{d} }

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func (d *Dynamo) put(ctx context.Context, table string, item interface{}) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put item in table '%s': %w", table, err)
	}
	return nil
}

func (d *Dynamo) get(ctx context.Context, table, id string, out interface{}) error {
	output, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to get item from table '%s': %w", table, err)
	}
	if output.Item == nil {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err := attributevalue.UnmarshalMap(output.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal item from table '%s': %w", table, err)
	}
	return nil
}

type dynamoRequests struct{ d *Dynamo }

func (r dynamoRequests) Create(ctx context.Context, req *entities.SearchRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := r.d.clock.Now()
	req.CreatedAt, req.UpdatedAt = now, now
	if err := r.d.put(ctx, r.d.cfg.RequestsTable, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

func (r dynamoRequests) FindByID(ctx context.Context, id string) (*entities.SearchRequest, error) {
	var req entities.SearchRequest
	if err := r.d.get(ctx, r.d.cfg.RequestsTable, id, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r dynamoRequests) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	names := map[string]string{"#status": "status", "#updatedAt": "updatedAt"}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(update.Status)},
		":updatedAt": &types.AttributeValueMemberN{Value: fmt.Sprint(r.d.clock.Now().Unix())},
	}
	sets := []string{"#status = :status", "#updatedAt = :updatedAt"}
	var removes []string

	optional := func(attr string, v *string) {
		if v == nil {
			return
		}
		names["#"+attr] = attr
		if *v == "" {
			removes = append(removes, "#"+attr)
			return
		}
		values[":"+attr] = &types.AttributeValueMemberS{Value: *v}
		sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
	}
	optional("opponentRequestId", update.OpponentRequestID)
	optional("matchId", update.MatchID)

	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}

	condition := "attribute_exists(id)"
	if update.ExpectStatus != "" {
		condition += " AND #status = :expect"
		values[":expect"] = &types.AttributeValueMemberS{Value: string(update.ExpectStatus)}
	}

	_, err := r.d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.d.cfg.RequestsTable),
		Key:                                 idKey(id),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("search request %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("search request %s expected %s: %w", id, update.ExpectStatus, ErrStatusConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update item in table '%s': %w", r.d.cfg.RequestsTable, err)
	}
	return nil
}

func (r dynamoRequests) FindByStatus(ctx context.Context, status entities.SearchStatus, limit int, order SortOrder) ([]entities.SearchRequest, error) {
	index := r.d.cfg.StatusIndex
	if order == LeastRecentlyUpdated {
		index = r.d.cfg.StatusUpdatedIndex
	}
	input := &dynamodb.QueryInput{
		TableName:                aws.String(r.d.cfg.RequestsTable),
		IndexName:                aws.String(index),
		KeyConditionExpression:   aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(order != NewestFirst),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	output, err := r.d.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query GSI '%s': %w", index, err)
	}

	var out []entities.SearchRequest
	if err := attributevalue.UnmarshalListOfMaps(output.Items, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query result: %w", err)
	}
	return out, nil
}

type dynamoMatches struct{ d *Dynamo }

func (r dynamoMatches) Create(ctx context.Context, match *entities.Match) (string, error) {
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	match.CreatedAt = r.d.clock.Now().Truncate(time.Second)
	if err := r.d.put(ctx, r.d.cfg.MatchesTable, match); err != nil {
		return "", err
	}
	return match.ID, nil
}

func (r dynamoMatches) FindByID(ctx context.Context, id string) (*entities.Match, error) {
	var match entities.Match
	if err := r.d.get(ctx, r.d.cfg.MatchesTable, id, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

type dynamoProfiles struct{ d *Dynamo }

func (r dynamoProfiles) FindByID(ctx context.Context, userID string) (*entities.Profile, error) {
	var p entities.Profile
	if err := r.d.get(ctx, r.d.cfg.ProfilesTable, userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
