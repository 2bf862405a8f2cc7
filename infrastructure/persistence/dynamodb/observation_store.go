package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"consumerdocs/domain/observation"
	appErrors "consumerdocs/pkg/errors"
	"consumerdocs/pkg/utils"
)

// Attribute names of an observation item
const (
	attrPK             = "PK"
	attrSK             = "SK"
	attrCallCount      = "call_count"
	attrFirstSeen      = "first_seen"
	attrLastSeen       = "last_seen"
	attrRequestFields  = "request_fields"
	attrRequestHeaders = "request_headers"
	attrQueryParams    = "query_params"
	attrResponseCodes  = "response_codes"
	attrTTL            = "ttl"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ObservationStore implements ports.ObservationStore on a single DynamoDB
// table keyed by PK = SERVICE#<service> and SK = CALLER#<caller>#<method>#<path>
type ObservationStore struct {
	client    DynamoDBAPI
	tableName string
	retention time.Duration
	logger    *zap.Logger
}

// NewObservationStore creates a new ObservationStore
func NewObservationStore(client DynamoDBAPI, tableName string, retention time.Duration, logger *zap.Logger) *ObservationStore {
	if retention <= 0 {
		retention = observation.DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationStore{
		client:    client,
		tableName: tableName,
		retention: retention,
		logger:    logger,
	}
}

// observationItem represents the DynamoDB item structure of a record
type observationItem struct {
	PK             string   `dynamodbav:"PK"`
	SK             string   `dynamodbav:"SK"`
	CallCount      int64    `dynamodbav:"call_count"`
	FirstSeen      string   `dynamodbav:"first_seen"`
	LastSeen       string   `dynamodbav:"last_seen"`
	RequestFields  []string `dynamodbav:"request_fields,stringset,omitempty"`
	RequestHeaders []string `dynamodbav:"request_headers,stringset,omitempty"`
	QueryParams    []string `dynamodbav:"query_params,stringset,omitempty"`
	ResponseCodes  []string `dynamodbav:"response_codes,stringset,omitempty"`
	TTL            int64    `dynamodbav:"ttl"`
}

// stringSet marshals as a DynamoDB string set (SS) rather than a list
type stringSet []string

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler
func (s stringSet) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if len(s) == 0 {
		return nil, errors.New("string set must not be empty")
	}
	return &types.AttributeValueMemberSS{Value: []string(s)}, nil
}

// WriteObservation upserts one summary with a single UpdateItem. The
// update expression carries the whole accumulation protocol, so concurrent
// writers of the same key never need to read first.
func (s *ObservationStore) WriteObservation(ctx context.Context, agg *observation.AggregatedObservation) error {
	input, err := s.buildUpdate(agg)
	if err != nil {
		return appErrors.NewValidationError(fmt.Sprintf("failed to build update for %s", agg.Key())).WithCause(err)
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		code := errorCode(err)
		switch {
		case IsRecordError(err):
			return appErrors.NewValidationError(fmt.Sprintf("UpdateItem rejected %s", agg.Key())).
				WithCode(code).
				WithCause(err)
		case IsThrottlingError(err):
			s.logger.Debug("DynamoDB throttled observation write",
				zap.String("code", code),
				zap.Stringer("key", agg.Key()),
			)
		}
		if code != "" {
			return appErrors.NewDatabaseError("WriteObservation", fmt.Errorf("UpdateItem failed (%s): %w", code, err)).WithCode(code)
		}
		return appErrors.NewDatabaseError("WriteObservation", fmt.Errorf("UpdateItem failed: %w", err))
	}
	return nil
}

// buildUpdate builds the upsert:
//
//	SET last_seen = :v, first_seen = if_not_exists(first_seen, :v), #ttl = :v
//	ADD call_count :n[, <set> :ss ...]
//
// Empty sets get no ADD clause at all, since DynamoDB rejects empty sets.
func (s *ObservationStore) buildUpdate(agg *observation.AggregatedObservation) (*dynamodb.UpdateItemInput, error) {
	ttl := agg.LastSeen.Add(s.retention).Unix()

	update := expression.
		Set(expression.Name(attrLastSeen), expression.Value(utils.FormatTimestamp(agg.LastSeen))).
		Set(expression.Name(attrFirstSeen),
			expression.IfNotExists(expression.Name(attrFirstSeen), expression.Value(utils.FormatTimestamp(agg.FirstSeen)))).
		Set(expression.Name(attrTTL), expression.Value(ttl)).
		Add(expression.Name(attrCallCount), expression.Value(agg.CallCount))

	sets := []struct {
		name string
		set  observation.StringSet
	}{
		{attrRequestFields, agg.RequestFields},
		{attrRequestHeaders, agg.RequestHeaders},
		{attrQueryParams, agg.QueryParams},
		{attrResponseCodes, agg.ResponseCodes},
	}
	for _, entry := range sets {
		if entry.set.Len() == 0 {
			continue
		}
		update = update.Add(expression.Name(entry.name), expression.Value(stringSet(entry.set.Sorted())))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return nil, err
	}

	return &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: observation.PartitionKey(agg.ServiceName)},
			attrSK: &types.AttributeValueMemberS{Value: observation.SortKey(agg.Caller, agg.Method, agg.PathTemplate)},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// FetchServiceData queries the service partition page by page. Records come
// back in sort-key order; a failure on any page fails the whole read.
func (s *ObservationStore) FetchServiceData(ctx context.Context, serviceName string) ([]observation.Record, error) {
	keyCond := expression.Key(attrPK).Equal(expression.Value(observation.PartitionKey(serviceName)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewDatabaseError("FetchServiceData", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	records := []observation.Record{}
	pages := 0
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, appErrors.NewDatabaseError("FetchServiceData", err).
				WithCode(errorCode(err)).
				WithDetails(map[string]interface{}{"service": serviceName, "page": pages})
		}
		pages++

		for _, item := range result.Items {
			rec, err := s.itemToRecord(item)
			if err != nil {
				return nil, appErrors.NewDatabaseError("FetchServiceData", err).
					WithDetails(map[string]interface{}{"service": serviceName})
			}
			records = append(records, rec)
		}

		// Check if there are more pages
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	s.logger.Debug("Fetched service records",
		zap.String("service", serviceName),
		zap.Int("records", len(records)),
		zap.Int("pages", pages),
	)
	return records, nil
}

func (s *ObservationStore) itemToRecord(av map[string]types.AttributeValue) (observation.Record, error) {
	var item observationItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return observation.Record{}, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	caller, method, path, err := observation.ParseSortKey(item.SK)
	if err != nil {
		return observation.Record{}, err
	}

	rec := observation.Record{
		ServiceName:    strings.TrimPrefix(item.PK, observation.PartitionKey("")),
		Caller:         caller,
		Method:         method,
		PathTemplate:   path,
		CallCount:      item.CallCount,
		RequestFields:  setOrNil(item.RequestFields),
		RequestHeaders: setOrNil(item.RequestHeaders),
		QueryParams:    setOrNil(item.QueryParams),
		ResponseCodes:  setOrNil(item.ResponseCodes),
	}
	if item.FirstSeen != "" {
		if rec.FirstSeen, err = utils.ParseTimestamp(item.FirstSeen); err != nil {
			return observation.Record{}, fmt.Errorf("invalid %s on %s: %w", attrFirstSeen, item.SK, err)
		}
	}
	if item.LastSeen != "" {
		if rec.LastSeen, err = utils.ParseTimestamp(item.LastSeen); err != nil {
			return observation.Record{}, fmt.Errorf("invalid %s on %s: %w", attrLastSeen, item.SK, err)
		}
	}
	if item.TTL > 0 {
		rec.ExpiresAt = time.Unix(item.TTL, 0).UTC()
	}
	return rec, nil
}

func setOrNil(items []string) observation.StringSet {
	if len(items) == 0 {
		return nil
	}
	return observation.NewStringSet(items...)
}

// errorCode returns the DynamoDB error code carried by err, if any
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsRecordError reports whether DynamoDB rejected the item itself (a bad
// value, an oversized item or collection) rather than the request. Retrying
// the same record cannot succeed and other records are unaffected.
func IsRecordError(err error) bool {
	switch errorCode(err) {
	case "ValidationException", "ItemCollectionSizeLimitExceededException":
		return true
	}
	var icl *types.ItemCollectionSizeLimitExceededException
	return errors.As(err, &icl)
}

// IsThrottlingError reports whether err is a DynamoDB capacity or rate error
func IsThrottlingError(err error) bool {
	switch errorCode(err) {
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
		return true
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}
