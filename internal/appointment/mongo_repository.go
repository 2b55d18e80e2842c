package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	appointmentsCollection = "appointments"
	sessionsCollection     = "sessions"
	bedsCollection         = "beds"
	didntShowCollection    = "didnt_show_list"
	usersCollection        = "users"
	eventLogsCollection    = "event_logs"
)

type appointmentDoc struct {
	ID        string    `bson:"_id"`
	PatientID string    `bson:"patientId"`
	Date      time.Time `bson:"date"`
	Slot      string    `bson:"slot"`
	BedID     *string   `bson:"bedId,omitempty"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type sessionDoc struct {
	ID          string    `bson:"_id"`
	SessionDate time.Time `bson:"sessionDate"`
	Slot        string    `bson:"slot"`
	IsActive    bool      `bson:"isActive"`
}

type bedDoc struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	IsWorking bool   `bson:"isWorking"`
}

type userDoc struct {
	ID       string `bson:"_id"`
	FCMToken string `bson:"fcmToken"`
}

// MongoRepository stores the schedule in document collections. Calendar
// dates are stored as UTC midnight and returned at midnight in loc.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
	loc    *time.Location
}

func NewMongoRepository(client *mongo.Client, database string, loc *time.Location) *MongoRepository {
	if loc == nil {
		loc = time.Local
	}
	return &MongoRepository{
		client: client,
		db:     client.Database(database),
		loc:    loc,
	}
}

func storeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayRange(t time.Time) bson.M {
	start := storeDate(t)
	return bson.M{"$gte": start, "$lt": start.AddDate(0, 0, 1)}
}

func statusValues(statuses []AppointmentStatus) bson.A {
	out := make(bson.A, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *MongoRepository) toAppointment(doc appointmentDoc) (Appointment, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment id %q: %w", doc.ID, err)
	}
	patientID, err := uuid.Parse(doc.PatientID)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %s patient id: %w", doc.ID, err)
	}

	a := Appointment{
		ID:        id,
		PatientID: patientID,
		Date:      civilDate(doc.Date.UTC(), r.loc),
		Slot:      doc.Slot,
		Status:    AppointmentStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.BedID != nil {
		bedID, err := uuid.Parse(*doc.BedID)
		if err != nil {
			return Appointment{}, fmt.Errorf("appointment %s bed id: %w", doc.ID, err)
		}
		a.BedID = &bedID
	}
	return a, nil
}

func (r *MongoRepository) findAppointments(ctx context.Context, filter bson.M) ([]Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "slot", Value: 1}, {Key: "createdAt", Value: 1}})
	cur, err := r.db.Collection(appointmentsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []Appointment
	for cur.Next(ctx) {
		var doc appointmentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		a, err := r.toAppointment(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, cur.Err()
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var doc appointmentDoc
	err := r.db.Collection(appointmentsCollection).FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a, err := r.toAppointment(doc)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *MongoRepository) ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error) {
	return r.findAppointments(ctx, bson.M{"status": bson.M{"$in": statusValues(statuses)}})
}

func (r *MongoRepository) ListAppointmentsOnDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	return r.findAppointments(ctx, bson.M{"date": dayRange(date)})
}

func (r *MongoRepository) ListSlotAppointments(ctx context.Context, date time.Time, slot string, statuses ...AppointmentStatus) ([]Appointment, error) {
	return r.findAppointments(ctx, bson.M{
		"date":   dayRange(date),
		"slot":   slot,
		"status": bson.M{"$in": statusValues(statuses)},
	})
}

func (r *MongoRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	var doc appointmentDoc
	err := r.db.Collection(appointmentsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a, err := r.toAppointment(doc)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *MongoRepository) MarkDidntShow(ctx context.Context, id uuid.UUID, reschedule *NewAppointment, record *DidntShowRecord) (*Appointment, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	var created *Appointment
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		created = nil
		appts := r.db.Collection(appointmentsCollection)

		res, err := appts.UpdateOne(sc,
			bson.M{"_id": id.String(), "status": string(StatusApproved)},
			bson.M{"$set": bson.M{"status": string(StatusDidntShow), "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return nil, fmt.Errorf("mark didnt_show: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, ErrAppointmentNotFound
		}

		if reschedule != nil {
			bedID := reschedule.BedID.String()
			doc := appointmentDoc{
				ID:        uuid.NewString(),
				PatientID: reschedule.PatientID.String(),
				Date:      storeDate(reschedule.Date),
				Slot:      reschedule.Slot,
				BedID:     &bedID,
				Status:    string(reschedule.Status),
				CreatedAt: reschedule.CreatedAt.UTC(),
				UpdatedAt: reschedule.CreatedAt.UTC(),
			}
			if _, err := appts.InsertOne(sc, doc); err != nil {
				return nil, fmt.Errorf("insert rescheduled appointment: %w", err)
			}
			a, err := r.toAppointment(doc)
			if err != nil {
				return nil, err
			}
			created = &a
		}

		if record != nil {
			_, err := r.db.Collection(didntShowCollection).UpdateOne(sc,
				bson.M{"_id": record.OriginalAppointmentID.String()},
				bson.M{"$setOnInsert": bson.M{
					"patientId":           record.PatientID.String(),
					"originalAppointment": record.OriginalAppointmentID.String(),
					"createdAt":           record.CreatedAt.UTC(),
				}},
				options.Update().SetUpsert(true),
			)
			if err != nil {
				return nil, fmt.Errorf("insert didnt show record: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *MongoRepository) ListActiveSessions(ctx context.Context, date time.Time) ([]Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "slot", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.db.Collection(sessionsCollection).Find(ctx, bson.M{
		"sessionDate": dayRange(date),
		"isActive":    true,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []Session
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("session id %q: %w", doc.ID, err)
		}
		result = append(result, Session{
			ID:     id,
			Date:   civilDate(doc.SessionDate.UTC(), r.loc),
			Slot:   doc.Slot,
			Active: doc.IsActive,
		})
	}
	return result, cur.Err()
}

func (r *MongoRepository) ListWorkingBeds(ctx context.Context) ([]Bed, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.db.Collection(bedsCollection).Find(ctx, bson.M{"isWorking": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []Bed
	for cur.Next(ctx) {
		var doc bedDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("bed id %q: %w", doc.ID, err)
		}
		result = append(result, Bed{ID: id, Name: doc.Name, IsWorking: doc.IsWorking})
	}
	return result, cur.Err()
}

func (r *MongoRepository) GetDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error) {
	var doc userDoc
	err := r.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": patientID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return doc.FCMToken, nil
}

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	doc := bson.M{
		"eventType": ev.EventType,
		"payload":   string(ev.Payload),
		"createdAt": ev.CreatedAt.UTC(),
	}
	if ev.AppointmentID != nil {
		doc["appointmentId"] = ev.AppointmentID.String()
	}
	if _, err := r.db.Collection(eventLogsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
