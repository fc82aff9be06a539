package pipeline

import (
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

type rawParquetRow struct {
	DataPoint          int64   `parquet:"name=data_point, type=INT64"`
	TestTime           float64 `parquet:"name=test_time, type=DOUBLE"`
	StepTime           float64 `parquet:"name=step_time, type=DOUBLE"`
	DateTime           string  `parquet:"name=date_time, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	CycleIndex         int64   `parquet:"name=cycle_index, type=INT64"`
	StepIndex          int64   `parquet:"name=step_index, type=INT64"`
	Current            float64 `parquet:"name=current, type=DOUBLE"`
	Voltage            float64 `parquet:"name=voltage, type=DOUBLE"`
	ChargeCapacity     float64 `parquet:"name=charge_capacity, type=DOUBLE"`
	DischargeCapacity  float64 `parquet:"name=discharge_capacity, type=DOUBLE"`
	ChargeEnergy       float64 `parquet:"name=charge_energy, type=DOUBLE"`
	DischargeEnergy    float64 `parquet:"name=discharge_energy, type=DOUBLE"`
	InternalResistance float64 `parquet:"name=internal_resistance, type=DOUBLE"`
}

func writeRawParquet(path string, rows []cellpy.RawRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(rawParquetRow), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		r := &rows[i]
		dt := ""
		if !r.DateTime.IsZero() {
			dt = r.DateTime.Format(cellpy.DateTimeLayout)
		}
		row := rawParquetRow{
			DataPoint:          r.DataPoint,
			TestTime:           r.TestTime,
			StepTime:           r.StepTime,
			DateTime:           dt,
			CycleIndex:         int64(r.CycleIndex),
			StepIndex:          int64(r.StepIndex),
			Current:            r.Current,
			Voltage:            r.Voltage,
			ChargeCapacity:     r.ChargeCapacity,
			DischargeCapacity:  r.DischargeCapacity,
			ChargeEnergy:       r.ChargeEnergy,
			DischargeEnergy:    r.DischargeEnergy,
			InternalResistance: r.InternalResistance,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

type stepParquetRow struct {
	CycleIndex  int64   `parquet:"name=cycle_index, type=INT64"`
	StepIndex   int64   `parquet:"name=step_index, type=INT64"`
	StepType    string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IR          float64 `parquet:"name=ir, type=DOUBLE"`
	IRPctChange float64 `parquet:"name=ir_pct_change, type=DOUBLE"`

	CurrentAvg   float64 `parquet:"name=current_avg, type=DOUBLE"`
	CurrentStd   float64 `parquet:"name=current_std, type=DOUBLE"`
	CurrentMax   float64 `parquet:"name=current_max, type=DOUBLE"`
	CurrentMin   float64 `parquet:"name=current_min, type=DOUBLE"`
	CurrentStart float64 `parquet:"name=current_start, type=DOUBLE"`
	CurrentEnd   float64 `parquet:"name=current_end, type=DOUBLE"`
	CurrentDelta float64 `parquet:"name=current_delta_pct, type=DOUBLE"`
	CurrentRate  float64 `parquet:"name=current_rate, type=DOUBLE"`

	VoltageAvg   float64 `parquet:"name=voltage_avg, type=DOUBLE"`
	VoltageStd   float64 `parquet:"name=voltage_std, type=DOUBLE"`
	VoltageMax   float64 `parquet:"name=voltage_max, type=DOUBLE"`
	VoltageMin   float64 `parquet:"name=voltage_min, type=DOUBLE"`
	VoltageStart float64 `parquet:"name=voltage_start, type=DOUBLE"`
	VoltageEnd   float64 `parquet:"name=voltage_end, type=DOUBLE"`
	VoltageDelta float64 `parquet:"name=voltage_delta_pct, type=DOUBLE"`
	VoltageRate  float64 `parquet:"name=voltage_rate, type=DOUBLE"`

	ChargeAvg   float64 `parquet:"name=charge_avg, type=DOUBLE"`
	ChargeStd   float64 `parquet:"name=charge_std, type=DOUBLE"`
	ChargeMax   float64 `parquet:"name=charge_max, type=DOUBLE"`
	ChargeMin   float64 `parquet:"name=charge_min, type=DOUBLE"`
	ChargeStart float64 `parquet:"name=charge_start, type=DOUBLE"`
	ChargeEnd   float64 `parquet:"name=charge_end, type=DOUBLE"`
	ChargeDelta float64 `parquet:"name=charge_delta_pct, type=DOUBLE"`
	ChargeRate  float64 `parquet:"name=charge_rate, type=DOUBLE"`

	DischargeAvg   float64 `parquet:"name=discharge_avg, type=DOUBLE"`
	DischargeStd   float64 `parquet:"name=discharge_std, type=DOUBLE"`
	DischargeMax   float64 `parquet:"name=discharge_max, type=DOUBLE"`
	DischargeMin   float64 `parquet:"name=discharge_min, type=DOUBLE"`
	DischargeStart float64 `parquet:"name=discharge_start, type=DOUBLE"`
	DischargeEnd   float64 `parquet:"name=discharge_end, type=DOUBLE"`
	DischargeDelta float64 `parquet:"name=discharge_delta_pct, type=DOUBLE"`
	DischargeRate  float64 `parquet:"name=discharge_rate, type=DOUBLE"`
}

func writeStepParquet(path string, steps cellpy.StepTable) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(stepParquetRow), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range steps {
		s := &steps[i]
		row := stepParquetRow{
			CycleIndex:  int64(s.CycleIndex),
			StepIndex:   int64(s.StepIndex),
			StepType:    string(s.Type),
			IR:          s.InternalResistance,
			IRPctChange: s.InternalResistancePctChange,

			CurrentAvg: s.Current.Avg, CurrentStd: s.Current.Std,
			CurrentMax: s.Current.Max, CurrentMin: s.Current.Min,
			CurrentStart: s.Current.Start, CurrentEnd: s.Current.End,
			CurrentDelta: s.Current.DeltaPct, CurrentRate: s.Current.Rate,

			VoltageAvg: s.Voltage.Avg, VoltageStd: s.Voltage.Std,
			VoltageMax: s.Voltage.Max, VoltageMin: s.Voltage.Min,
			VoltageStart: s.Voltage.Start, VoltageEnd: s.Voltage.End,
			VoltageDelta: s.Voltage.DeltaPct, VoltageRate: s.Voltage.Rate,

			ChargeAvg: s.Charge.Avg, ChargeStd: s.Charge.Std,
			ChargeMax: s.Charge.Max, ChargeMin: s.Charge.Min,
			ChargeStart: s.Charge.Start, ChargeEnd: s.Charge.End,
			ChargeDelta: s.Charge.DeltaPct, ChargeRate: s.Charge.Rate,

			DischargeAvg: s.Discharge.Avg, DischargeStd: s.Discharge.Std,
			DischargeMax: s.Discharge.Max, DischargeMin: s.Discharge.Min,
			DischargeStart: s.Discharge.Start, DischargeEnd: s.Discharge.End,
			DischargeDelta: s.Discharge.DeltaPct, DischargeRate: s.Discharge.Rate,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

type summaryParquetRow struct {
	DateTime   string  `parquet:"name=date_time, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TestTime   float64 `parquet:"name=test_time, type=DOUBLE"`
	DataPoint  int64   `parquet:"name=data_point, type=INT64"`
	CycleIndex int64   `parquet:"name=cycle_index, type=INT64"`

	Current           float64 `parquet:"name=current, type=DOUBLE"`
	Voltage           float64 `parquet:"name=voltage, type=DOUBLE"`
	ChargeCapacity    float64 `parquet:"name=charge_capacity_ah, type=DOUBLE"`
	DischargeCapacity float64 `parquet:"name=discharge_capacity_ah, type=DOUBLE"`
	ChargeEnergy      float64 `parquet:"name=charge_energy_wh, type=DOUBLE"`
	DischargeEnergy   float64 `parquet:"name=discharge_energy_wh, type=DOUBLE"`

	ChargeCapacityMAhG    float64 `parquet:"name=charge_capacity_mahg, type=DOUBLE"`
	DischargeCapacityMAhG float64 `parquet:"name=discharge_capacity_mahg, type=DOUBLE"`
	CumChargeCapacityMAhG float64 `parquet:"name=cumulated_charge_capacity_mahg, type=DOUBLE"`
	CoulombicEfficiency   float64 `parquet:"name=coulombic_efficiency_pct, type=DOUBLE"`
	CoulombicDiffMAhG     float64 `parquet:"name=coulombic_difference_mahg, type=DOUBLE"`
	CumCoulombicDiffMAhG  float64 `parquet:"name=cumulated_coulombic_difference_mahg, type=DOUBLE"`
	DischargeLossMAhG     float64 `parquet:"name=discharge_capacity_loss_mahg, type=DOUBLE"`
	ChargeLossMAhG        float64 `parquet:"name=charge_capacity_loss_mahg, type=DOUBLE"`
	CumDischargeLossMAhG  float64 `parquet:"name=cumulated_discharge_capacity_loss_mahg, type=DOUBLE"`
	CumChargeLossMAhG     float64 `parquet:"name=cumulated_charge_capacity_loss_mahg, type=DOUBLE"`

	OCVFirstMinV  float64 `parquet:"name=ocv_first_min_v, type=DOUBLE"`
	OCVFirstMaxV  float64 `parquet:"name=ocv_first_max_v, type=DOUBLE"`
	OCVSecondMinV float64 `parquet:"name=ocv_second_min_v, type=DOUBLE"`
	OCVSecondMaxV float64 `parquet:"name=ocv_second_max_v, type=DOUBLE"`

	EndVoltageDischargeV float64 `parquet:"name=end_voltage_discharge_v, type=DOUBLE"`
	EndVoltageChargeV    float64 `parquet:"name=end_voltage_charge_v, type=DOUBLE"`

	IRDischargeOhm float64 `parquet:"name=ir_discharge_ohm, type=DOUBLE"`
	IRChargeOhm    float64 `parquet:"name=ir_charge_ohm, type=DOUBLE"`
}

func writeSummaryParquet(path string, summary cellpy.SummaryTable) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(summaryParquetRow), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range summary {
		r := &summary[i]
		dt := r.DateTimeText
		if dt == "" && !r.DateTime.IsZero() {
			dt = r.DateTime.Format(cellpy.DateTimeLayout)
		}
		row := summaryParquetRow{
			DateTime:   dt,
			TestTime:   r.TestTime,
			DataPoint:  r.DataPoint,
			CycleIndex: int64(r.CycleIndex),

			Current:           r.Current,
			Voltage:           r.Voltage,
			ChargeCapacity:    r.ChargeCapacity,
			DischargeCapacity: r.DischargeCapacity,
			ChargeEnergy:      r.ChargeEnergy,
			DischargeEnergy:   r.DischargeEnergy,

			ChargeCapacityMAhG:    r.ChargeCapacityMAhG,
			DischargeCapacityMAhG: r.DischargeCapacityMAhG,
			CumChargeCapacityMAhG: r.CumulativeChargeCapacityMAhG,
			CoulombicEfficiency:   r.CoulombicEfficiencyPct,
			CoulombicDiffMAhG:     r.CoulombicDifferenceMAhG,
			CumCoulombicDiffMAhG:  r.CumulativeCoulombicDifferenceMAhG,
			DischargeLossMAhG:     r.DischargeCapacityLossMAhG,
			ChargeLossMAhG:        r.ChargeCapacityLossMAhG,
			CumDischargeLossMAhG:  r.CumulativeDischargeCapacityLossMAhG,
			CumChargeLossMAhG:     r.CumulativeChargeCapacityLossMAhG,

			OCVFirstMinV:  r.OCVFirstMinV,
			OCVFirstMaxV:  r.OCVFirstMaxV,
			OCVSecondMinV: r.OCVSecondMinV,
			OCVSecondMaxV: r.OCVSecondMaxV,

			EndVoltageDischargeV: r.EndVoltageDischargeV,
			EndVoltageChargeV:    r.EndVoltageChargeV,

			IRDischargeOhm: r.IRDischargeOhm,
			IRChargeOhm:    r.IRChargeOhm,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}
