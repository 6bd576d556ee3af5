package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
)

func updatedLine(l *store.Lot, now time.Time) string {
	if l.UpdatedAt.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s (%s)", parking.Stamp(l.UpdatedAt), parking.Relative(l.UpdatedAt, now))
}

func formatAvailableLots(lots []store.Lot, now time.Time) string {
	if len(lots) == 0 {
		return "No hay parqueaderos con cupos disponibles en este momento."
	}
	var b strings.Builder
	b.WriteString("🅿️ **Parqueaderos con Cupos Disponibles:**\n\n")
	for i := range lots {
		l := &lots[i]
		status := l.OccupancyStatus
		if status == "" {
			status = "Disponible"
		}
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, l.Name)
		fmt.Fprintf(&b, "   📍 %s\n", l.Location)
		fmt.Fprintf(&b, "   🚗 Cupos: %s\n", l.Spots())
		fmt.Fprintf(&b, "   📊 Estado: %s\n", status)
		fmt.Fprintf(&b, "   🆔 ID: %s\n", l.ID)
		if u := updatedLine(l, now); u != "" {
			fmt.Fprintf(&b, "   🕐 Actualizado: %s\n", u)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatLotDetails(l *store.Lot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🅿️ **%s**\n\n", l.Name)
	writeLotBody(&b, l, now)

	state := "❌ Sin cupos"
	if l.HasSpots {
		state = "✅ Disponible"
	}
	fmt.Fprintf(&b, "\n**Estado Actual:** %s\n", state)
	fmt.Fprintf(&b, "🆔 **ID:** %s", l.ID)
	return b.String()
}

func formatManagedLot(l *store.Lot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🅿️ **Tu Parqueadero: %s**\n\n", l.Name)
	writeLotBody(&b, l, now)

	state := "❌ Sin cupos"
	if l.HasSpots {
		state = "✅ Tiene cupos"
	}
	fmt.Fprintf(&b, "\n**Estado Actual:** %s\n", state)
	fmt.Fprintf(&b, "**ID del Parqueadero:** `%s`", l.ID)
	return b.String()
}

func writeLotBody(b *strings.Builder, l *store.Lot, now time.Time) {
	fmt.Fprintf(b, "📍 **Ubicación:** %s\n", l.Location)
	fmt.Fprintf(b, "🏢 **Capacidad Total:** %d vehículos\n", l.Capacity)
	fmt.Fprintf(b, "🚗 **Cupos Disponibles:** %s\n", l.Spots())
	if l.OccupancyStatus != "" {
		fmt.Fprintf(b, "📊 **Estado:** %s\n", l.OccupancyStatus)
	}
	if u := updatedLine(l, now); u != "" {
		fmt.Fprintf(b, "🕐 **Última Actualización:** %s\n", u)
	}
}

func formatSearchResults(query string, lots []store.Lot) string {
	if len(lots) == 0 {
		return fmt.Sprintf("No encontré parqueaderos que coincidan con \"%s\". Intenta con otra descripción o pide la lista de parqueaderos disponibles.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Resultados para \"%s\":**\n\n", query)
	for i := range lots {
		l := &lots[i]
		fmt.Fprintf(&b, "%d. **%s**", i+1, l.Name)
		if l.Score > 0 {
			fmt.Fprintf(&b, " (coincidencia %.0f%%)", l.Score*100)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "   📍 %s\n", l.Location)
		state := "❌ Sin cupos"
		if l.HasSpots {
			state = "✅ Cupos: " + l.Spots()
		}
		fmt.Fprintf(&b, "   🚗 %s\n", state)
		fmt.Fprintf(&b, "   🆔 ID: %s\n\n", l.ID)
	}
	return b.String()
}

func formatSubscriptions(views []parking.SubscriptionView) string {
	if len(views) == 0 {
		return "ℹ️ No tienes suscripciones activas.\n\nPuedes suscribirte a parqueaderos específicos o a todos para recibir notificaciones."
	}
	var b strings.Builder
	b.WriteString("📋 **Tus Suscripciones Activas:**\n\n")
	for i, v := range views {
		if v.Lot == nil {
			fmt.Fprintf(&b, "%d. 🌐 **Todos los parqueaderos**\n", i+1)
		} else {
			fmt.Fprintf(&b, "%d. 🅿️ **%s**\n", i+1, v.Lot.Name)
			fmt.Fprintf(&b, "   📍 %s\n", v.Lot.Location)
			fmt.Fprintf(&b, "   🆔 ID: %s\n", v.Lot.ID)
		}
		if !v.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "   📅 Desde: %s\n", parking.Stamp(v.CreatedAt))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatReportOutcome(o *parking.ReportOutcome) string {
	name := o.Lot.Name
	if o.AlreadyReported {
		return fmt.Sprintf("ℹ️ Ya has reportado que **%s** tiene cupos disponibles.\n\n"+
			"📊 Reportes actuales: **%d/%d**\n\n"+
			"⏳ Cuando se alcancen %d reportes de diferentes usuarios, se activarán los cupos automáticamente.",
			name, o.Count, o.Threshold, o.Threshold)
	}
	if o.Activated {
		return fmt.Sprintf("🎉 **¡Reporte registrado exitosamente!**\n\n"+
			"✅ Se alcanzaron **%d reportes** para **%s**\n\n"+
			"🚗 **El parqueadero ha sido activado** con cupos disponibles\n"+
			"📢 Se enviaron **%d notificaciones** a los suscriptores\n\n"+
			"🔄 El contador de reportes se ha reiniciado a 0\n\n"+
			"¡Gracias por tu colaboración! 🙏",
			o.Threshold, name, o.Notified)
	}
	return fmt.Sprintf("✅ **Reporte registrado exitosamente**\n\n"+
		"📍 Parqueadero: **%s**\n"+
		"📊 Reportes actuales: **%d/%d**\n"+
		"⏳ Faltan **%d reporte(s)** más para activar los cupos automáticamente\n\n"+
		"¡Gracias por tu colaboración! Cuando se alcancen %d reportes, se notificará a todos los suscriptores.",
		name, o.Count, o.Threshold, o.Missing(), o.Threshold)
}

func formatPendingReports(reports []parking.PendingReport, threshold int) string {
	if len(reports) == 0 {
		return "ℹ️ No tienes reportes activos.\n\nPuedes reportar parqueaderos con cupos disponibles para ayudar a la comunidad."
	}
	var b strings.Builder
	b.WriteString("📋 **Tus reportes activos:**\n\n")
	for i, r := range reports {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, r.Lot.Name)
		fmt.Fprintf(&b, "   📊 Reportes: %d/%d\n", r.Count, threshold)
		fmt.Fprintf(&b, "   📅 Fecha: %s\n\n", parking.Stamp(r.CreatedAt))
	}
	return b.String()
}

func formatSpotUpdate(l *store.Lot, notified int) string {
	var b strings.Builder
	b.WriteString("✅ **Actualización exitosa**\n\n")
	fmt.Fprintf(&b, "🅿️ **%s**\n", l.Name)
	fmt.Fprintf(&b, "🚗 Cupos actualizados: %s\n", l.Spots())
	fmt.Fprintf(&b, "📊 Estado: %s\n", l.OccupancyStatus)
	if notified > 0 {
		fmt.Fprintf(&b, "\n📨 Se enviaron %d notificaciones a conductores suscritos.", notified)
	} else {
		b.WriteString("\n📭 No hay conductores suscritos para notificar.")
	}
	return b.String()
}

func formatToggle(l *store.Lot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Estado actualizado para **%s**\n\n", l.Name)
	fmt.Fprintf(&b, "📊 Estado: %s\n", l.OccupancyStatus)
	if l.HasSpots {
		b.WriteString("\n💡 Tip: Puedes actualizar la cantidad exacta de cupos con la herramienta 'update_spots'")
	}
	return b.String()
}
