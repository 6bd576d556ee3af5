package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
	"github.com/everydev1618/pmc/tools"
)

const (
	msgLotNotFound   = "❌ Parqueadero no encontrado. Verifica el ID o busca el parqueadero por nombre."
	msgPremiumNotice = "🔒 Las notificaciones son una función Premium. Revisa el mensaje anterior para saber cómo obtener acceso gratis."
	searchLimit      = 5
)

var lotIDParam = map[string]tools.ParamDef{
	"lot_id": {Type: "string", Description: "ID del parqueadero", Required: true},
}

// DriverTools returns the tool set of a driver, bound to userID.
func DriverTools(svc *parking.Service, userID string) *tools.Tools {
	t := tools.NewTools()

	t.MustRegister("list_available_lots", tools.ToolDef{
		Description: "Lista los parqueaderos que tienen cupos disponibles en este momento.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			lots, err := svc.AvailableLots(ctx)
			if err != nil {
				return "", err
			}
			return formatAvailableLots(lots, svc.Now()), nil
		},
	})

	t.MustRegister("get_lot_details", lotDetailsTool(svc))

	t.MustRegister("find_lot_by_name", tools.ToolDef{
		Description: "Busca un parqueadero por su nombre exacto.",
		Params: map[string]tools.ParamDef{
			"name": {Type: "string", Description: "Nombre exacto del parqueadero", Required: true},
		},
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			name := tools.String(p, "name")
			lot, err := svc.LotByName(ctx, name)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Sprintf("❌ No encontré un parqueadero llamado \"%s\". Prueba con search_lots para una búsqueda aproximada.", name), nil
			}
			if err != nil {
				return "", err
			}
			return formatLotDetails(lot, svc.Now()), nil
		},
	})

	t.MustRegister("search_lots", tools.ToolDef{
		Description: "Búsqueda inteligente de parqueaderos por descripción, ubicación o nombre aproximado (por ejemplo \"cerca al SD\" o \"en la 72\").",
		Params: map[string]tools.ParamDef{
			"query": {Type: "string", Description: "Descripción del parqueadero buscado", Required: true},
		},
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			query := tools.String(p, "query")
			lots, err := svc.SearchLots(ctx, query, searchLimit)
			if err != nil {
				return "", err
			}
			return formatSearchResults(query, lots), nil
		},
	})

	t.MustRegister("subscribe_to_lot", tools.ToolDef{
		Description: "Suscribe al conductor a un parqueadero para recibir notificaciones cuando haya cupos. Requiere Premium.",
		Params:      lotIDParam,
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			res, err := svc.Subscribe(ctx, userID, tools.String(p, "lot_id"))
			switch {
			case errors.Is(err, parking.ErrPremiumRequired):
				return msgPremiumNotice, nil
			case errors.Is(err, store.ErrNotFound):
				return msgLotNotFound, nil
			case err != nil:
				return "", err
			}
			if res.Already {
				return fmt.Sprintf("ℹ️ Ya estás suscrito a **%s**.", res.Lot.Name), nil
			}
			return fmt.Sprintf("✅ Te suscribiste a **%s**.\n\n📍 %s\n\nTe avisaré cuando haya cupos disponibles. 🔔\n⭐ Premium: %d días restantes",
				res.Lot.Name, res.Lot.Location, res.Access.DaysRemaining), nil
		},
	})

	t.MustRegister("subscribe_to_all", tools.ToolDef{
		Description: "Suscribe al conductor a todos los parqueaderos. Requiere Premium.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			res, err := svc.SubscribeAll(ctx, userID)
			if errors.Is(err, parking.ErrPremiumRequired) {
				return msgPremiumNotice, nil
			}
			if err != nil {
				return "", err
			}
			if res.Already {
				return "ℹ️ Ya estás suscrito a todos los parqueaderos.", nil
			}
			return fmt.Sprintf("✅ Te suscribiste a **todos los parqueaderos**.\n\nRecibirás una notificación cada vez que un parqueadero tenga cupos. 🔔\n⭐ Premium: %d días restantes",
				res.Access.DaysRemaining), nil
		},
	})

	t.MustRegister("list_my_subscriptions", tools.ToolDef{
		Description: "Muestra las suscripciones activas del conductor.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			views, err := svc.Subscriptions(ctx, userID)
			if err != nil {
				return "", err
			}
			return formatSubscriptions(views), nil
		},
	})

	t.MustRegister("unsubscribe_from_lot", tools.ToolDef{
		Description: "Cancela la suscripción del conductor a un parqueadero.",
		Params:      lotIDParam,
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			lot, ok, err := svc.Unsubscribe(ctx, userID, tools.String(p, "lot_id"))
			if errors.Is(err, store.ErrNotFound) {
				return msgLotNotFound, nil
			}
			if err != nil {
				return "", err
			}
			if !ok {
				return fmt.Sprintf("ℹ️ No tenías una suscripción activa a **%s**.", lot.Name), nil
			}
			return fmt.Sprintf("✅ Cancelaste tu suscripción a **%s**.", lot.Name), nil
		},
	})

	t.MustRegister("unsubscribe_from_all", tools.ToolDef{
		Description: "Cancela todas las suscripciones del conductor.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			n, err := svc.UnsubscribeAll(ctx, userID)
			if err != nil {
				return "", err
			}
			if n == 0 {
				return "ℹ️ No tenías suscripciones activas.", nil
			}
			return fmt.Sprintf("✅ Cancelaste %d suscripción(es). Ya no recibirás notificaciones.", n), nil
		},
	})

	t.MustRegister("referral_stats", tools.ToolDef{
		Description: "Envía al conductor su código de referido, sus referidos y el estado de su Premium.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			if err := svc.SendReferralStats(ctx, userID); err != nil {
				return "", err
			}
			return "📨 Te envié un mensaje con tu código de referido y el estado de tu Premium.", nil
		},
	})

	t.MustRegister("report_available_spots", tools.ToolDef{
		Description: fmt.Sprintf("Reporta que un parqueadero tiene cupos disponibles. Con %d reportes de conductores distintos se activan los cupos y se notifica a los suscriptores.",
			svc.Config().ReportThreshold),
		Params: lotIDParam,
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			out, err := svc.Report(ctx, userID, tools.String(p, "lot_id"))
			if errors.Is(err, store.ErrNotFound) {
				return msgLotNotFound, nil
			}
			if err != nil {
				return "", err
			}
			return formatReportOutcome(out), nil
		},
	})

	t.MustRegister("list_my_reports", tools.ToolDef{
		Description: "Muestra los reportes de cupos del conductor que aún no se han procesado.",
		Fn: func(ctx context.Context, _ map[string]any) (string, error) {
			reports, err := svc.PendingReports(ctx, userID)
			if err != nil {
				return "", err
			}
			return formatPendingReports(reports, svc.Config().ReportThreshold), nil
		},
	})

	return t
}

func lotDetailsTool(svc *parking.Service) tools.ToolDef {
	return tools.ToolDef{
		Description: "Muestra la información detallada de un parqueadero por su ID.",
		Params:      lotIDParam,
		Fn: func(ctx context.Context, p map[string]any) (string, error) {
			lot, err := svc.Lot(ctx, tools.String(p, "lot_id"))
			if errors.Is(err, store.ErrNotFound) {
				return msgLotNotFound, nil
			}
			if err != nil {
				return "", err
			}
			return formatLotDetails(lot, svc.Now()), nil
		},
	}
}
