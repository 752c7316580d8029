package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoDirectory reads the children/buses/routes collections
type MongoDirectory struct {
}

func NewMongoDirectory() *MongoDirectory {
	return &MongoDirectory{}
}

func (d *MongoDirectory) RouteForBus(ctx context.Context, busIdentifier string) (*sbdf.RouteSnapshot, error) {
	routesCollection := database.GetCollection("routes")

	var route *Route
	err := routesCollection.FindOne(ctx, bson.M{"busidentifier": busIdentifier}).Decode(&route)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("no route assigned to bus %s", busIdentifier)
	} else if err != nil {
		return nil, err
	}

	now := time.Now()

	snapshot := &sbdf.RouteSnapshot{
		PrimaryIdentifier: route.PrimaryIdentifier,
		BusIdentifier:     route.BusIdentifier,
		RouteName:         route.Name,
	}

	for _, routeStop := range route.Stops {
		stop := &sbdf.Stop{
			PrimaryIdentifier: routeStop.Identifier,
			PrimaryName:       routeStop.Name,

			Location: routeStop.Location,

			GeofenceRadiusMetres: routeStop.GeofenceRadiusMetres,

			IsSchool: routeStop.IsSchool,

			AssociatedChildren: routeStop.ChildIdentifiers,
		}

		if expected, err := time.Parse("15:04", routeStop.ExpectedArrivalTime); err == nil {
			stop.ExpectedArrivalTime = time.Date(
				now.Year(), now.Month(), now.Day(),
				expected.Hour(), expected.Minute(), 0, 0, now.Location(),
			)
		}

		snapshot.Stops = append(snapshot.Stops, stop)
	}

	return snapshot, nil
}

// CanWatchRoom implements the room authorization policy. Parents may watch
// their own children's rooms and the bus those children ride, drivers their
// assigned bus, admins anything.
func (d *MongoDirectory) CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error) {
	if principal.Role == sbdf.RoleAdmin {
		return true, nil
	}

	kind, identifier, ok := sbdf.ParseRoomKey(roomKey)
	if !ok {
		return false, nil
	}

	childrenCollection := database.GetCollection("children")

	switch kind {
	case sbdf.RoomKindBus:
		if principal.Role == sbdf.RoleDriver {
			busesCollection := database.GetCollection("buses")

			count, err := busesCollection.CountDocuments(ctx, bson.M{
				"primaryidentifier": identifier,
				"driveridentifier":  principal.UserIdentifier,
			})
			if err != nil {
				return false, err
			}

			return count > 0, nil
		}

		count, err := childrenCollection.CountDocuments(ctx, bson.M{
			"busidentifier":     identifier,
			"parentidentifiers": principal.UserIdentifier,
		})
		if err != nil {
			return false, err
		}

		return count > 0, nil
	case sbdf.RoomKindChild:
		if principal.Role == sbdf.RoleDriver {
			var child *Child
			err := childrenCollection.FindOne(ctx, bson.M{"primaryidentifier": identifier}).Decode(&child)
			if err == mongo.ErrNoDocuments {
				return false, nil
			} else if err != nil {
				return false, err
			}

			busesCollection := database.GetCollection("buses")

			count, err := busesCollection.CountDocuments(ctx, bson.M{
				"primaryidentifier": child.BusIdentifier,
				"driveridentifier":  principal.UserIdentifier,
			})
			if err != nil {
				return false, err
			}

			return count > 0, nil
		}

		count, err := childrenCollection.CountDocuments(ctx, bson.M{
			"primaryidentifier": identifier,
			"parentidentifiers": principal.UserIdentifier,
		})
		if err != nil {
			return false, err
		}

		return count > 0, nil
	}

	return false, nil
}

func (d *MongoDirectory) BusForChild(ctx context.Context, childIdentifier string) (string, error) {
	childrenCollection := database.GetCollection("children")

	var child *Child
	err := childrenCollection.FindOne(ctx, bson.M{"primaryidentifier": childIdentifier}).Decode(&child)
	if err == mongo.ErrNoDocuments {
		return "", fmt.Errorf("unknown child %s", childIdentifier)
	} else if err != nil {
		return "", err
	}

	return child.BusIdentifier, nil
}
