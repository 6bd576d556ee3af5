package bot

import (
	"context"
	"errors"

	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/tools"
)

const msgNoLotAssigned = "❌ No tienes un parqueadero asignado. Contacta al administrador."

// ManagerTools returns the tool set of a lot manager, bound to userID.
func ManagerTools(svc *parking.Service, userID string) *tools.Tools {
	t := tools.NewTools()

	t.MustRegister("my_lot", tools.ToolDef{
		Description: "Muestra la información del parqueadero que administra el gestor.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			lot, err := svc.ManagedLot(ctx, userID)
			if errors.Is(err, parking.ErrNoLotAssigned) {
				return msgNoLotAssigned, nil
			}
			if err != nil {
				return "", err
			}
			return formatManagedLot(lot, svc.Now()), nil
		},
	})

	t.MustRegister("update_spots", tools.ToolDef{
		Description: "Actualiza la cantidad de cupos disponibles del parqueadero y notifica a los conductores suscritos.",
		Params: map[string]tools.ParamDef{
			"spots":  {Type: "string", Description: "Cupos disponibles, por ejemplo \"5\", \"10-15\" o \"20+\"", Required: true},
			"status": {Type: "string", Description: "Descripción opcional del estado de ocupación"},
		},
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			lot, sent, err := svc.SetSpots(ctx, userID, tools.String(p, "spots"), tools.String(p, "status"))
			if errors.Is(err, parking.ErrNoLotAssigned) {
				return msgNoLotAssigned, nil
			}
			if err != nil {
				return "", err
			}
			return formatSpotUpdate(lot, sent), nil
		},
	})

	t.MustRegister("set_spot_state", tools.ToolDef{
		Description: "Marca el parqueadero como lleno o con cupos, sin notificar a los conductores.",
		Params: map[string]tools.ParamDef{
			"has_spots": {Type: "boolean", Description: "true si hay cupos, false si está lleno", Required: true},
		},
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			has, err := tools.Bool(p, "has_spots")
			if err != nil {
				return "", err
			}
			lot, err := svc.ToggleSpots(ctx, userID, has)
			if errors.Is(err, parking.ErrNoLotAssigned) {
				return msgNoLotAssigned, nil
			}
			if err != nil {
				return "", err
			}
			return formatToggle(lot), nil
		},
	})

	t.MustRegister("get_lot_details", lotDetailsTool(svc))

	return t
}
