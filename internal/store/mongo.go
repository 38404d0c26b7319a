package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DriverMongo はMongoDBドライバ名。
const DriverMongo = "mongo"

// defaultMongoDatabase はMongoDatabase未指定時のデータベース名。
const defaultMongoDatabase = "careerCode"

// Mongo はMongoDBをバックエンドとするストア。
// 識別子はObjectIDを割り当て、外部には16進文字列として見せる。
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo はMongoDBに接続し、疎通を確認する。
// Stable API v1（strict）で接続する。
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MongoDBの接続URIが指定されていません")
	}
	if database == "" {
		database = defaultMongoDatabase
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1).
		SetStrict(true).
		SetDeprecationErrors(true)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI))
	if err != nil {
		return nil, fmt.Errorf("MongoDB接続に失敗: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(database)}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

// Collection は名前に対応するコレクションを返す。
func (m *Mongo) Collection(name string) (Collection, error) {
	if err := knownCollection(name); err != nil {
		return nil, err
	}
	return &mongoCollection{coll: m.db.Collection(name)}, nil
}

// Ping はadminデータベースにpingコマンドを送る。
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return fmt.Errorf("MongoDBへの疎通確認に失敗: %w", err)
	}
	return nil
}

// Close はMongoDBとの接続を切断する。
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// mongoCollection はMongoDBのコレクション。
type mongoCollection struct {
	coll *mongo.Collection
}

// InsertOne はドキュメントを保存する。_idはMongoDBに割り当てさせる。
func (c *mongoCollection) InsertOne(ctx context.Context, doc Document) (*InsertResult, error) {
	stored := bson.M{}
	for k, v := range doc {
		if k == IDField {
			continue
		}
		stored[k] = v
	}

	res, err := c.coll.InsertOne(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("%sへの挿入に失敗: %w", c.coll.Name(), err)
	}
	return &InsertResult{Acknowledged: true, InsertedID: idString(res.InsertedID)}, nil
}

// Find はフィルタに一致するドキュメントを返す。順序は指定しない。
func (c *mongoCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	query, ok, err := toBSONFilter(filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Document{}, nil
	}

	cursor, err := c.coll.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%sの検索に失敗: %w", c.coll.Name(), err)
	}
	return decodeCursor(ctx, cursor)
}

// FindByID は識別子に一致するドキュメントを返す。
// 存在しない場合や識別子がObjectIDとして不正な場合はnilを返す。
func (c *mongoCollection) FindByID(ctx context.Context, id string) (Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var raw bson.M
	err = c.coll.FindOne(ctx, bson.M{IDField: oid}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗: %w", c.coll.Name(), err)
	}
	return fromBSON(raw), nil
}

// FindByIDs は識別子の集合に一致するドキュメントを$inで1回の問い合わせで返す。
func (c *mongoCollection) FindByIDs(ctx context.Context, ids []string) ([]Document, error) {
	oids := objectIDs(uniqueStrings(ids))
	if len(oids) == 0 {
		return []Document{}, nil
	}

	cursor, err := c.coll.Find(ctx, bson.M{IDField: bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("%sの検索に失敗: %w", c.coll.Name(), err)
	}
	return decodeCursor(ctx, cursor)
}

// CountBy は$match・$groupの集計パイプラインで値ごとの件数を返す。
func (c *mongoCollection) CountBy(ctx context.Context, field string, values []string) (map[string]int64, error) {
	if field != IDField {
		if err := validateField(field); err != nil {
			return nil, err
		}
	}
	values = uniqueStrings(values)
	counts := make(map[string]int64, len(values))
	if len(values) == 0 {
		return counts, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{field: bson.M{"$in": values}}}},
		{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%sの集計に失敗: %w", c.coll.Name(), err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	for cursor.Next(ctx) {
		var row countRow
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("%sの集計結果の読み取りに失敗: %w", c.coll.Name(), err)
		}
		row.addTo(counts)
	}
	return counts, cursor.Err()
}

// countRow は$groupの結果の1行。
// fieldが配列のドキュメントも$inに一致するため、_idは文字列とは限らない。
type countRow struct {
	Key   any   `bson:"_id"`
	Count int64 `bson:"count"`
}

// addTo は_idが文字列の行だけをcountsに加える。
func (r countRow) addTo(counts map[string]int64) {
	if key, ok := r.Key.(string); ok {
		counts[key] += r.Count
	}
}

// SetField は$setでfieldだけを更新する。
func (c *mongoCollection) SetField(ctx context.Context, id, field string, value any) (*UpdateResult, error) {
	if field == IDField {
		return nil, fmt.Errorf("%w: %sは更新できません", ErrInvalidField, IDField)
	}
	if err := validateField(field); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return &UpdateResult{Acknowledged: true}, nil
	}

	res, err := c.coll.UpdateOne(ctx, bson.M{IDField: oid}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return nil, fmt.Errorf("%sの更新に失敗: %w", c.coll.Name(), err)
	}
	return &UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}, nil
}

// toBSONFilter はFilterをBSONの検索条件に変換する。
// _idがObjectIDとして不正な場合は一致するドキュメントが無いのでokにfalseを返す。
func toBSONFilter(filter Filter) (bson.D, bool, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := bson.D{}
	for _, k := range keys {
		v := filter[k]
		if k == IDField {
			s, _ := v.(string)
			oid, err := primitive.ObjectIDFromHex(s)
			if err != nil {
				return nil, false, nil
			}
			query = append(query, bson.E{Key: IDField, Value: oid})
			continue
		}
		if err := validateField(k); err != nil {
			return nil, false, err
		}
		query = append(query, bson.E{Key: k, Value: v})
	}
	return query, true, nil
}

// decodeCursor はカーソルの全ドキュメントを読み取る。
func decodeCursor(ctx context.Context, cursor *mongo.Cursor) ([]Document, error) {
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("検索結果の読み取りに失敗: %w", err)
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, fromBSON(raw))
	}
	return docs, nil
}

// fromBSON はBSONドキュメントをJSONで表現できるDocumentに変換する。
func fromBSON(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = fromBSONValue(v)
	}
	return doc
}

// fromBSONValue はBSON固有の型をJSON向けの値に変換する。
func fromBSONValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case bson.M:
		return map[string]any(fromBSON(val))
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromBSONValue(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	default:
		return v
	}
}

// idString はInsertOneが返した識別子を文字列にする。
func idString(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}

// objectIDs は16進文字列をObjectIDに変換する。不正な値は除外する。
func objectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	return oids
}
