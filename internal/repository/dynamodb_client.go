package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whatsapp-agent/internal/directory"
	"whatsapp-agent/internal/domain"
)

const (
	pkPrefixChannel   = "CHANNEL#"
	pkPrefixAssistant = "ASSISTANT#"
	skProfile         = "PROFILE"
	skPrefixIntent    = "INTENT#"

	// DynamoDB caps a transaction at 100 items; one is the assistant profile.
	maxIntentsPerAssistant = 99
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var (
	_ directory.Directory = (*Client)(nil)
	_ directory.Writer    = (*Client)(nil)
)

// Client serves the directory from a single DynamoDB table.
//
// Item layout:
//
//	CHANNEL#<phone>  PROFILE        channel, owning business, assistantId
//	ASSISTANT#<id>   PROFILE        assistant profile and prompt
//	ASSISTANT#<id>   INTENT#<key>   one configured intent
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func channelPK(phone string) string { return pkPrefixChannel + phone }

func assistantPK(id string) string { return pkPrefixAssistant + id }

func intentSK(key string) string { return skPrefixIntent + key }

// ResolveChannel loads the channel and its assistant and applies the
// serviceability rules. A missing item is not an error.
func (c *Client) ResolveChannel(ctx context.Context, phone string) (*domain.DirectoryRecord, error) {
	item, err := c.getItem(ctx, channelPK(phone), skProfile)
	if err != nil {
		return nil, fmt.Errorf("repository: ResolveChannel get channel: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	ch, err := itemToChannel(item)
	if err != nil {
		return nil, fmt.Errorf("repository: ResolveChannel decode channel: %w", err)
	}
	if ch.AssistantID == "" {
		return nil, nil
	}

	item, err = c.getItem(ctx, assistantPK(ch.AssistantID), skProfile)
	if err != nil {
		return nil, fmt.Errorf("repository: ResolveChannel get assistant: %w", err)
	}
	var assistant *directory.AssistantEntry
	if item != nil {
		a, err := itemToAssistant(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ResolveChannel decode assistant: %w", err)
		}
		assistant = &a
	}
	return directory.BuildRecord(ch, assistant), nil
}

// ListIntents queries every INTENT# item of the assistant, following
// pagination, and returns the active ones in key order.
func (c *Client) ListIntents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: assistantPK(assistantID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixIntent},
		},
	}

	var entries []directory.IntentEntry
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListIntents query: %w", err)
		}
		for _, item := range out.Items {
			e, err := itemToIntent(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListIntents unmarshal: %w", err)
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return directory.ActiveIntents(entries), nil
}

// PutChannel writes or replaces a channel profile.
func (c *Client) PutChannel(ctx context.Context, e directory.ChannelEntry) error {
	if strings.TrimSpace(e.Channel.Phone) == "" {
		return errors.New("repository: PutChannel: phone is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      channelItem(e),
	})
	if err != nil {
		return fmt.Errorf("repository: PutChannel: %w", err)
	}
	return nil
}

// PutAssistant writes the assistant profile and its intents in one
// transaction. Intents stored earlier under other keys are left in place;
// deactivate them instead of dropping them from the entry.
func (c *Client) PutAssistant(ctx context.Context, e directory.AssistantEntry) error {
	if strings.TrimSpace(e.Assistant.ID) == "" {
		return errors.New("repository: PutAssistant: assistant id is required")
	}
	if len(e.Intents) > maxIntentsPerAssistant {
		return fmt.Errorf("repository: PutAssistant: %d intents exceed the limit of %d", len(e.Intents), maxIntentsPerAssistant)
	}

	items := make([]types.TransactWriteItem, 0, len(e.Intents)+1)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item:      assistantItem(e),
		},
	})
	for _, in := range e.Intents {
		if strings.TrimSpace(in.Key) == "" {
			return errors.New("repository: PutAssistant: intent key is required")
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      intentItem(e.Assistant.ID, in),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: PutAssistant: %w", err)
	}
	return nil
}

func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func itemToChannel(item map[string]types.AttributeValue) (directory.ChannelEntry, error) {
	phone, err := strAttr(item, "phone")
	if err != nil {
		return directory.ChannelEntry{}, err
	}
	return directory.ChannelEntry{
		Channel: domain.Channel{
			ID:    optStrAttr(item, "channelId"),
			Name:  optStrAttr(item, "channelName"),
			Type:  optStrAttr(item, "channelType"),
			Phone: phone,
		},
		Active: optBoolAttr(item, "active"),
		Business: domain.Business{
			ID:       optStrAttr(item, "businessId"),
			Name:     optStrAttr(item, "businessName"),
			Category: optStrAttr(item, "category"),
			Hours:    optStrAttr(item, "hours"),
			Location: optStrAttr(item, "location"),
			Website:  optStrAttr(item, "website"),
		},
		BusinessActive: optBoolAttr(item, "businessActive"),
		AssistantID:    optStrAttr(item, "assistantId"),
	}, nil
}

func itemToAssistant(item map[string]types.AttributeValue) (directory.AssistantEntry, error) {
	id, err := strAttr(item, "assistantId")
	if err != nil {
		return directory.AssistantEntry{}, err
	}
	return directory.AssistantEntry{
		Assistant: domain.Assistant{
			ID:          id,
			Name:        optStrAttr(item, "name"),
			Type:        optStrAttr(item, "assistantType"),
			Description: optStrAttr(item, "description"),
		},
		Active: optBoolAttr(item, "active"),
		Prompt: optStrAttr(item, "prompt"),
	}, nil
}

func itemToIntent(item map[string]types.AttributeValue) (directory.IntentEntry, error) {
	key, err := strAttr(item, "key")
	if err != nil {
		return directory.IntentEntry{}, err
	}
	action, err := strAttr(item, "actionType")
	if err != nil {
		return directory.IntentEntry{}, err
	}
	e := directory.IntentEntry{
		Key:         key,
		Name:        optStrAttr(item, "name"),
		Description: optStrAttr(item, "description"),
		ActionType:  domain.ActionType(action),
		Active:      optBoolAttr(item, "active"),
	}
	if cfg := optStrAttr(item, "config"); cfg != "" {
		e.Config = []byte(cfg)
	}
	return e, nil
}

func channelItem(e directory.ChannelEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: channelPK(e.Channel.Phone)},
		"SK":             &types.AttributeValueMemberS{Value: skProfile},
		"phone":          &types.AttributeValueMemberS{Value: e.Channel.Phone},
		"channelId":      &types.AttributeValueMemberS{Value: e.Channel.ID},
		"channelName":    &types.AttributeValueMemberS{Value: e.Channel.Name},
		"channelType":    &types.AttributeValueMemberS{Value: e.Channel.Type},
		"active":         &types.AttributeValueMemberBOOL{Value: e.Active},
		"businessId":     &types.AttributeValueMemberS{Value: e.Business.ID},
		"businessName":   &types.AttributeValueMemberS{Value: e.Business.Name},
		"category":       &types.AttributeValueMemberS{Value: e.Business.Category},
		"hours":          &types.AttributeValueMemberS{Value: e.Business.Hours},
		"location":       &types.AttributeValueMemberS{Value: e.Business.Location},
		"website":        &types.AttributeValueMemberS{Value: e.Business.Website},
		"businessActive": &types.AttributeValueMemberBOOL{Value: e.BusinessActive},
		"assistantId":    &types.AttributeValueMemberS{Value: e.AssistantID},
	}
}

func assistantItem(e directory.AssistantEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: assistantPK(e.Assistant.ID)},
		"SK":            &types.AttributeValueMemberS{Value: skProfile},
		"assistantId":   &types.AttributeValueMemberS{Value: e.Assistant.ID},
		"name":          &types.AttributeValueMemberS{Value: e.Assistant.Name},
		"assistantType": &types.AttributeValueMemberS{Value: e.Assistant.Type},
		"description":   &types.AttributeValueMemberS{Value: e.Assistant.Description},
		"active":        &types.AttributeValueMemberBOOL{Value: e.Active},
		"prompt":        &types.AttributeValueMemberS{Value: e.Prompt},
	}
}

func intentItem(assistantID string, e directory.IntentEntry) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: assistantPK(assistantID)},
		"SK":          &types.AttributeValueMemberS{Value: intentSK(e.Key)},
		"key":         &types.AttributeValueMemberS{Value: e.Key},
		"name":        &types.AttributeValueMemberS{Value: e.Name},
		"description": &types.AttributeValueMemberS{Value: e.Description},
		"actionType":  &types.AttributeValueMemberS{Value: string(e.ActionType)},
		"active":      &types.AttributeValueMemberBOOL{Value: e.Active},
	}
	if len(e.Config) > 0 {
		item["config"] = &types.AttributeValueMemberS{Value: string(e.Config)}
	}
	return item
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key) // allow empty
	return s
}

// optBoolAttr reads a BOOL attribute; anything else reads as false.
func optBoolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}
